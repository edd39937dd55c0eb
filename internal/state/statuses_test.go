package state

import (
	"testing"
)

func TestJobStatus_String(t *testing.T) {
	tests := []struct {
		name     string
		status   JobStatus
		expected string
	}{
		{name: "Pending status", status: StatusPending, expected: "pending"},
		{name: "Processing status", status: StatusProcessing, expected: "processing"},
		{name: "Completed status", status: StatusCompleted, expected: "completed"},
		{name: "Failed status", status: StatusFailed, expected: "failed"},
		{name: "Dead status", status: StatusDead, expected: "dead"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.status.String()
			if result != tt.expected {
				t.Errorf("String() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestParse(t *testing.T) {
	for _, status := range AllStatuses {
		got, err := Parse(status.String())
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", status, err)
		}
		if got != status {
			t.Errorf("Parse(%q) = %v", status, got)
		}
	}

	if _, err := Parse("retrying"); err == nil {
		t.Error("Parse(\"retrying\") expected an error")
	}
	if _, err := Parse(""); err == nil {
		t.Error("Parse(\"\") expected an error")
	}
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     JobStatus
		to       JobStatus
		expected bool
	}{
		{name: "Valid: Pending to Processing", from: StatusPending, to: StatusProcessing, expected: true},
		{name: "Valid: Processing to Completed", from: StatusProcessing, to: StatusCompleted, expected: true},
		{name: "Valid: Processing to Failed", from: StatusProcessing, to: StatusFailed, expected: true},
		{name: "Valid: Failed to Processing", from: StatusFailed, to: StatusProcessing, expected: true},
		{name: "Valid: Failed to Pending", from: StatusFailed, to: StatusPending, expected: true},
		{name: "Valid: Failed to Dead", from: StatusFailed, to: StatusDead, expected: true},
		{name: "Valid: Dead to Pending", from: StatusDead, to: StatusPending, expected: true},
		{name: "Invalid: Pending to Completed", from: StatusPending, to: StatusCompleted, expected: false},
		{name: "Invalid: Pending to Failed", from: StatusPending, to: StatusFailed, expected: false},
		{name: "Invalid: Processing to Dead", from: StatusProcessing, to: StatusDead, expected: false},
		{name: "Invalid: Completed to Pending", from: StatusCompleted, to: StatusPending, expected: false},
		{name: "Invalid: Dead to Processing", from: StatusDead, to: StatusProcessing, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition() = %v, want %v", result, tt.expected)
			}
		})
	}
}
