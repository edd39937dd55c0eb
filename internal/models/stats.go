package models

import "jobqueue/internal/state"

// Stats is a point-in-time count of jobs per state.
type Stats struct {
	Total   int                     `json:"total"`
	ByState map[state.JobStatus]int `json:"by_state"`
}

// CountStats tallies jobs; every known state is present even when zero.
func CountStats(jobs []Job) Stats {
	s := Stats{ByState: make(map[state.JobStatus]int, len(state.AllStatuses))}
	for _, st := range state.AllStatuses {
		s.ByState[st] = 0
	}
	for i := range jobs {
		s.ByState[jobs[i].State]++
		s.Total++
	}
	return s
}

func (s Stats) Count(st state.JobStatus) int {
	return s.ByState[st]
}
