package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// BatchKey identifies a batch. At most one batch exists per key.
type BatchKey struct {
	OwnerID  string
	CourseID string
}

func (k BatchKey) String() string {
	return k.OwnerID + "/" + k.CourseID
}

// Batch is one owner's subscription to a remote course, with its delivery configuration.
type Batch struct {
	ID           string
	OwnerID      string
	CourseID     string
	APIBase      string
	Credential   string
	Name         string
	Destination  string
	ScheduleTime *string
	Credit       string
	Thumbnail    string
	ItemCount    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (b Batch) Key() BatchKey {
	return BatchKey{OwnerID: b.OwnerID, CourseID: b.CourseID}
}

// IsScheduled reports whether the batch has a recurring delivery time.
func (b Batch) IsScheduled() bool {
	return b.ScheduleTime != nil && strings.TrimSpace(*b.ScheduleTime) != ""
}

func (b *Batch) Validate() error {
	if strings.TrimSpace(b.OwnerID) == "" {
		return fmt.Errorf("%w: ownerId is required", ErrValidation)
	}
	if strings.TrimSpace(b.CourseID) == "" {
		return fmt.Errorf("%w: courseId is required", ErrValidation)
	}
	if strings.TrimSpace(b.Credential) == "" {
		return fmt.Errorf("%w: credential is required", ErrValidation)
	}
	if strings.TrimSpace(b.Destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrValidation)
	}

	apiBase := strings.TrimSpace(b.APIBase)
	if apiBase == "" {
		return fmt.Errorf("%w: apiBase is required", ErrValidation)
	}
	parsed, err := url.ParseRequestURI(apiBase)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: invalid apiBase %q", ErrValidation, b.APIBase)
	}

	if b.ScheduleTime != nil {
		normalized, err := ParseScheduleTime(*b.ScheduleTime)
		if err != nil {
			return err
		}
		b.ScheduleTime = &normalized
	}
	if b.ItemCount < 0 {
		return fmt.Errorf("%w: itemCount must be >= 0", ErrValidation)
	}

	return nil
}

// ParseScheduleTime validates a wall-clock HH:MM value and returns it zero-padded.
func ParseScheduleTime(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	t, err := time.Parse("15:04", trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: schedule time %q must be HH:MM", ErrValidation, s)
	}
	return t.Format("15:04"), nil
}
