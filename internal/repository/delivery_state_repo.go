package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/course-relay/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeliveryStateRepository interface {
	Upsert(ctx context.Context, s *domain.DeliveryState) error
	Get(ctx context.Context, key domain.BatchKey) (*domain.DeliveryState, error)
	ListIncomplete(ctx context.Context) ([]domain.DeliveryState, error)
	Delete(ctx context.Context, key domain.BatchKey) error
}

type GormDeliveryStateRepo struct {
	db *gorm.DB
}

func NewGormDeliveryStateRepo(db *gorm.DB) *GormDeliveryStateRepo {
	return &GormDeliveryStateRepo{db: db}
}

// Upsert overwrites the state for the batch key, last writer wins.
func (r *GormDeliveryStateRepo) Upsert(ctx context.Context, s *domain.DeliveryState) error {
	model := deliveryStateModelFromDomain(s)
	if model == nil {
		return errors.New("delivery state is required")
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "owner_id"}, {Name: "course_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "progress", "processed", "total", "pdf_count", "video_count", "updated_at",
			}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}
	*s = *deliveryStateModelToDomain(model)
	return nil
}

func (r *GormDeliveryStateRepo) Get(ctx context.Context, key domain.BatchKey) (*domain.DeliveryState, error) {
	var model DeliveryStateModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND course_id = ?", key.OwnerID, key.CourseID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryStateModelToDomain(&model), nil
}

func (r *GormDeliveryStateRepo) ListIncomplete(ctx context.Context) ([]domain.DeliveryState, error) {
	var models []DeliveryStateModel
	err := r.db.WithContext(ctx).
		Where("status <> ?", domain.DeliveryStatusCompleted).
		Order("updated_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	states := make([]domain.DeliveryState, 0, len(models))
	for i := range models {
		states = append(states, *deliveryStateModelToDomain(&models[i]))
	}
	return states, nil
}

func (r *GormDeliveryStateRepo) Delete(ctx context.Context, key domain.BatchKey) error {
	return r.db.WithContext(ctx).
		Where("owner_id = ? AND course_id = ?", key.OwnerID, key.CourseID).
		Delete(&DeliveryStateModel{}).Error
}
