package output

import (
	"encoding/json"
	"fmt"
)

// PrintJSON 以缩进JSON输出任意对象
func PrintJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
