package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus represents the processing state of a batch run.
type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "PENDING"
	DeliveryStatusProcessing DeliveryStatus = "PROCESSING"
	DeliveryStatusCompleted  DeliveryStatus = "COMPLETED"
)

// CompletedMarker is the progress marker stored with a terminal state.
const CompletedMarker = "completed"

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusProcessing, DeliveryStatusCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether recovery must leave the state alone.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusCompleted
}

func ParseDeliveryStatusFromString(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
	return st, nil
}

// DeliveryState is the per-batch progress record, overwritten on every tick.
type DeliveryState struct {
	OwnerID    string
	CourseID   string
	Status     DeliveryStatus
	Progress   string
	Processed  int
	Total      int
	PDFCount   int
	VideoCount int
	UpdatedAt  time.Time
}

func (s DeliveryState) Key() BatchKey {
	return BatchKey{OwnerID: s.OwnerID, CourseID: s.CourseID}
}

// ProgressMarker renders the checkpoint text stored with a non-terminal state.
func ProgressMarker(processed, total, pdfs, videos int) string {
	return fmt.Sprintf("Processing: %d/%d | PDFs: %d | Videos: %d", processed, total, pdfs, videos)
}

// NewProgressState builds a non-terminal checkpoint for key.
func NewProgressState(key BatchKey, processed, total, pdfs, videos int) DeliveryState {
	return DeliveryState{
		OwnerID:    key.OwnerID,
		CourseID:   key.CourseID,
		Status:     DeliveryStatusProcessing,
		Progress:   ProgressMarker(processed, total, pdfs, videos),
		Processed:  processed,
		Total:      total,
		PDFCount:   pdfs,
		VideoCount: videos,
	}
}

// NewCompletedState builds the terminal state for key.
func NewCompletedState(key BatchKey, total, pdfs, videos int) DeliveryState {
	return DeliveryState{
		OwnerID:    key.OwnerID,
		CourseID:   key.CourseID,
		Status:     DeliveryStatusCompleted,
		Progress:   CompletedMarker,
		Processed:  total,
		Total:      total,
		PDFCount:   pdfs,
		VideoCount: videos,
	}
}
