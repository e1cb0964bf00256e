package workflow

import "time"

// StepStatus Step执行状态
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepCancelled StepStatus = "cancelled"
)

// IsTerminal Step是否终态
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepCancelled:
		return true
	}
	return false
}

// StepExecution 单次Step执行记录。记录只追加不覆盖，
// 重试产生attempt递增的新记录（I4：终态记录两个时间戳齐备）。
type StepExecution struct {
	StepName     string     `json:"step_name"`
	Status       StepStatus `json:"status"`
	Attempt      int        `json:"attempt"`
	Input        []byte     `json:"input,omitempty"`
	Output       []byte     `json:"output,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func newStepExecution(stepName string, input []byte, attempt int, dependencies []string) *StepExecution {
	return &StepExecution{
		StepName:     stepName,
		Status:       StepPending,
		Attempt:      attempt,
		Input:        input,
		Dependencies: dependencies,
	}
}

func (s *StepExecution) markStarted() {
	now := time.Now()
	s.Status = StepRunning
	s.StartedAt = &now
}

func (s *StepExecution) markCompleted(output []byte) {
	s.Output = output
	s.close(StepCompleted)
}

func (s *StepExecution) markFailed(errMsg string) {
	s.ErrorMessage = errMsg
	s.close(StepFailed)
}

func (s *StepExecution) markCancelled() {
	s.close(StepCancelled)
}

func (s *StepExecution) close(status StepStatus) {
	now := time.Now()
	if s.StartedAt == nil {
		s.StartedAt = &now
	}
	s.Status = status
	s.CompletedAt = &now
}

// Duration 执行耗时（未结束返回0）
func (s *StepExecution) Duration() time.Duration {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt)
}

// Clone 深拷贝
func (s *StepExecution) Clone() *StepExecution {
	cp := *s
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Input = append([]byte(nil), s.Input...)
	cp.Output = append([]byte(nil), s.Output...)
	cp.Dependencies = append([]string(nil), s.Dependencies...)
	return &cp
}
