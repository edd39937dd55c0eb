package models

import (
	"fmt"
	"hash/fnv"
	"time"

	"go.jetify.com/typeid/v2"
)

const JobIDPrefix = "job"

// NewJobID returns a K-sortable TypeID such as "job_01h2xcejqtf2nbrexx3vqjhp41".
func NewJobID() (string, error) {
	tid, err := typeid.Generate(JobIDPrefix)
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return tid.String(), nil
}

// LegacyJobID reproduces the historical "job_<unix>_<hash>" scheme. It is a
// weak uniqueness guarantee: the same command enqueued twice within one
// second yields the same id, and distinct commands collide on the four digit
// hash suffix.
func LegacyJobID(command string, now time.Time) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(command))
	return fmt.Sprintf("job_%d_%d", now.Unix(), h.Sum32()%10000)
}
