package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/course-relay/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ArchiveRepository indexes archive copies by location across all batches.
type ArchiveRepository interface {
	Get(ctx context.Context, location string) (*domain.ArchivedMessage, error)
	Save(ctx context.Context, m *domain.ArchivedMessage) error
}

type GormArchiveRepo struct {
	db *gorm.DB
}

func NewGormArchiveRepo(db *gorm.DB) *GormArchiveRepo {
	return &GormArchiveRepo{db: db}
}

func (r *GormArchiveRepo) Get(ctx context.Context, location string) (*domain.ArchivedMessage, error) {
	var model ArchivedMessageModel
	err := r.db.WithContext(ctx).First(&model, "location = ?", location).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return archivedMessageModelToDomain(&model), nil
}

func (r *GormArchiveRepo) Save(ctx context.Context, m *domain.ArchivedMessage) error {
	if m == nil {
		return errors.New("archived message is required")
	}
	model := &ArchivedMessageModel{
		Location:  m.Location,
		MessageID: m.MessageID,
		CreatedAt: m.CreatedAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "location"}},
			DoUpdates: clause.AssignmentColumns([]string{"message_id"}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}
	*m = *archivedMessageModelToDomain(model)
	return nil
}
