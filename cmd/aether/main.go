package main

import "github.com/LENAX/aether/pkg/cli/cmd"

func main() {
	cmd.Execute()
}
