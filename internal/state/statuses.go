package state

import "fmt"

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusDead       JobStatus = "dead"
)

func (s JobStatus) String() string {
	return string(s)
}

func (s JobStatus) IsKnown() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

var AllStatuses = []JobStatus{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusDead,
}

// Parse converts user input such as a --state flag into a JobStatus.
func Parse(s string) (JobStatus, error) {
	st := JobStatus(s)
	if !st.IsKnown() {
		return "", fmt.Errorf("unknown job state %q (want one of %v)", s, AllStatuses)
	}
	return st, nil
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

// ValidTransitions is the complete job lifecycle. Every path into a terminal
// state passes through processing; dead -> pending is the operator retry.
var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusProcessing},
	{From: StatusProcessing, To: StatusCompleted},
	{From: StatusProcessing, To: StatusFailed},
	{From: StatusFailed, To: StatusPending},
	{From: StatusFailed, To: StatusProcessing},
	{From: StatusFailed, To: StatusDead},
	{From: StatusDead, To: StatusPending},
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}
