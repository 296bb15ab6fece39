package domain

import (
	"fmt"
	"strings"
	"time"
)

// AssetKind is the declared kind of a discovered catalog item.
type AssetKind string

const (
	AssetKindVideo    AssetKind = "video"
	AssetKindDocument AssetKind = "document"
)

func (k AssetKind) String() string { return string(k) }

func (k AssetKind) IsValid() bool {
	switch k {
	case AssetKindVideo, AssetKindDocument:
		return true
	}
	return false
}

// Asset is one discovered piece of content. It lives only for the duration of a run.
type Asset struct {
	Location  string
	Name      string
	Kind      AssetKind
	Subject   string
	Topic     string
	CreatedAt *time.Time
}

func (a Asset) Validate() error {
	if strings.TrimSpace(a.Location) == "" {
		return fmt.Errorf("%w: asset location is required", ErrValidation)
	}
	if !a.Kind.IsValid() {
		return fmt.Errorf("%w: invalid asset kind %q", ErrValidation, a.Kind)
	}
	return nil
}

// DeliveredAsset is the dedup ledger entry keyed by (CourseID, Location).
type DeliveredAsset struct {
	CourseID         string
	Location         string
	Destination      string
	MessageID        int64
	ArchiveMessageID *int64
	Kind             AssetKind
	DeliveredAt      time.Time
}

// ArchivedMessage points at the archive copy of a location, shared by all batches.
type ArchivedMessage struct {
	Location  string
	MessageID int64
	CreatedAt time.Time
}

// TopicChannel maps (Destination, Subject) to a thread inside the destination.
type TopicChannel struct {
	Destination string
	Subject     string
	ThreadID    int64
	CreatedAt   time.Time
}

// RunTrigger names what started a batch run.
type RunTrigger string

const (
	TriggerOnboarding RunTrigger = "onboarding"
	TriggerSchedule   RunTrigger = "schedule"
	TriggerRecovery   RunTrigger = "recovery"
	TriggerManual     RunTrigger = "manual"
)

func (t RunTrigger) String() string { return string(t) }

func (t RunTrigger) IsValid() bool {
	switch t {
	case TriggerOnboarding, TriggerSchedule, TriggerRecovery, TriggerManual:
		return true
	}
	return false
}
