package build

import "fmt"

// Lifecycle state of a stage within a run.
type Status int

const (
	Pending Status = iota
	Running
	Succeeded
	Failed
	Cancelled
)

var statusNames = [...]string{
	Pending:   "pending",
	Running:   "running",
	Succeeded: "succeeded",
	Failed:    "failed",
	Cancelled: "cancelled",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// Whether the status is final.
func (s Status) Done() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}
