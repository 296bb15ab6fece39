package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/course-relay/internal/domain"
)

// RunMessage is the broker payload asking a worker to run one batch.
type RunMessage struct {
	RunID    string            `json:"runId"`
	OwnerID  string            `json:"ownerId"`
	CourseID string            `json:"courseId"`
	Trigger  domain.RunTrigger `json:"trigger"`
}

func (m RunMessage) Validate() error {
	if strings.TrimSpace(m.RunID) == "" {
		return fmt.Errorf("runId is required")
	}
	if strings.TrimSpace(m.OwnerID) == "" {
		return fmt.Errorf("ownerId is required")
	}
	if strings.TrimSpace(m.CourseID) == "" {
		return fmt.Errorf("courseId is required")
	}
	if !m.Trigger.IsValid() {
		return fmt.Errorf("invalid trigger %q", m.Trigger)
	}
	return nil
}

func (m RunMessage) Key() domain.BatchKey {
	return domain.BatchKey{OwnerID: m.OwnerID, CourseID: m.CourseID}
}
