package repository

import (
	"time"

	"github.com/kursadbilgin/course-relay/internal/domain"
)

// BatchModel is the persistence model for the batches table.
type BatchModel struct {
	ID           string  `gorm:"type:uuid;primaryKey"`
	OwnerID      string  `gorm:"type:varchar(64);not null;uniqueIndex:idx_batches_owner_course"`
	CourseID     string  `gorm:"type:varchar(64);not null;uniqueIndex:idx_batches_owner_course;index:idx_batches_course"`
	APIBase      string  `gorm:"type:varchar(255);not null"`
	Credential   string  `gorm:"type:text;not null"`
	Name         string  `gorm:"type:varchar(255);not null;default:''"`
	Destination  string  `gorm:"type:varchar(64);not null"`
	ScheduleTime *string `gorm:"type:varchar(5)"`
	Credit       string  `gorm:"type:varchar(255);not null;default:''"`
	Thumbnail    string  `gorm:"type:text;not null;default:''"`
	ItemCount    int     `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

// DeliveryStateModel is the persistence model for delivery_states.
type DeliveryStateModel struct {
	OwnerID    string                `gorm:"type:varchar(64);primaryKey"`
	CourseID   string                `gorm:"type:varchar(64);primaryKey"`
	Status     domain.DeliveryStatus `gorm:"type:varchar(20);not null;index:idx_delivery_states_status"`
	Progress   string                `gorm:"type:varchar(255);not null;default:''"`
	Processed  int                   `gorm:"not null;default:0"`
	Total      int                   `gorm:"not null;default:0"`
	PDFCount   int                   `gorm:"column:pdf_count;not null;default:0"`
	VideoCount int                   `gorm:"not null;default:0"`
	UpdatedAt  time.Time
}

func (DeliveryStateModel) TableName() string {
	return "delivery_states"
}

// DeliveredAssetModel is the persistence model for the delivered_assets ledger.
type DeliveredAssetModel struct {
	CourseID         string           `gorm:"type:varchar(64);primaryKey"`
	Location         string           `gorm:"type:text;primaryKey"`
	Destination      string           `gorm:"type:varchar(64);not null"`
	MessageID        int64            `gorm:"not null"`
	ArchiveMessageID *int64           `gorm:"type:bigint"`
	Kind             domain.AssetKind `gorm:"type:varchar(16);not null"`
	DeliveredAt      time.Time        `gorm:"not null"`
}

func (DeliveredAssetModel) TableName() string {
	return "delivered_assets"
}

// ArchivedMessageModel is the persistence model for archived_messages.
type ArchivedMessageModel struct {
	Location  string `gorm:"type:text;primaryKey"`
	MessageID int64  `gorm:"not null"`
	CreatedAt time.Time
}

func (ArchivedMessageModel) TableName() string {
	return "archived_messages"
}

// TopicChannelModel is the persistence model for topic_channels.
type TopicChannelModel struct {
	Destination string `gorm:"type:varchar(64);primaryKey"`
	Subject     string `gorm:"type:varchar(255);primaryKey"`
	ThreadID    int64  `gorm:"not null"`
	CreatedAt   time.Time
}

func (TopicChannelModel) TableName() string {
	return "topic_channels"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:           b.ID,
		OwnerID:      b.OwnerID,
		CourseID:     b.CourseID,
		APIBase:      b.APIBase,
		Credential:   b.Credential,
		Name:         b.Name,
		Destination:  b.Destination,
		ScheduleTime: b.ScheduleTime,
		Credit:       b.Credit,
		Thumbnail:    b.Thumbnail,
		ItemCount:    b.ItemCount,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:           m.ID,
		OwnerID:      m.OwnerID,
		CourseID:     m.CourseID,
		APIBase:      m.APIBase,
		Credential:   m.Credential,
		Name:         m.Name,
		Destination:  m.Destination,
		ScheduleTime: m.ScheduleTime,
		Credit:       m.Credit,
		Thumbnail:    m.Thumbnail,
		ItemCount:    m.ItemCount,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func deliveryStateModelFromDomain(s *domain.DeliveryState) *DeliveryStateModel {
	if s == nil {
		return nil
	}

	return &DeliveryStateModel{
		OwnerID:    s.OwnerID,
		CourseID:   s.CourseID,
		Status:     s.Status,
		Progress:   s.Progress,
		Processed:  s.Processed,
		Total:      s.Total,
		PDFCount:   s.PDFCount,
		VideoCount: s.VideoCount,
		UpdatedAt:  s.UpdatedAt,
	}
}

func deliveryStateModelToDomain(m *DeliveryStateModel) *domain.DeliveryState {
	if m == nil {
		return nil
	}

	return &domain.DeliveryState{
		OwnerID:    m.OwnerID,
		CourseID:   m.CourseID,
		Status:     m.Status,
		Progress:   m.Progress,
		Processed:  m.Processed,
		Total:      m.Total,
		PDFCount:   m.PDFCount,
		VideoCount: m.VideoCount,
		UpdatedAt:  m.UpdatedAt,
	}
}

func deliveredAssetModelFromDomain(a *domain.DeliveredAsset) *DeliveredAssetModel {
	if a == nil {
		return nil
	}

	return &DeliveredAssetModel{
		CourseID:         a.CourseID,
		Location:         a.Location,
		Destination:      a.Destination,
		MessageID:        a.MessageID,
		ArchiveMessageID: a.ArchiveMessageID,
		Kind:             a.Kind,
		DeliveredAt:      a.DeliveredAt,
	}
}

func deliveredAssetModelToDomain(m *DeliveredAssetModel) *domain.DeliveredAsset {
	if m == nil {
		return nil
	}

	return &domain.DeliveredAsset{
		CourseID:         m.CourseID,
		Location:         m.Location,
		Destination:      m.Destination,
		MessageID:        m.MessageID,
		ArchiveMessageID: m.ArchiveMessageID,
		Kind:             m.Kind,
		DeliveredAt:      m.DeliveredAt,
	}
}

func archivedMessageModelToDomain(m *ArchivedMessageModel) *domain.ArchivedMessage {
	if m == nil {
		return nil
	}

	return &domain.ArchivedMessage{
		Location:  m.Location,
		MessageID: m.MessageID,
		CreatedAt: m.CreatedAt,
	}
}

func topicChannelModelToDomain(m *TopicChannelModel) *domain.TopicChannel {
	if m == nil {
		return nil
	}

	return &domain.TopicChannel{
		Destination: m.Destination,
		Subject:     m.Subject,
		ThreadID:    m.ThreadID,
		CreatedAt:   m.CreatedAt,
	}
}
