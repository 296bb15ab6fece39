package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/kursadbilgin/course-relay/internal/domain"
	"gorm.io/gorm"
)

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	GetByKey(ctx context.Context, key domain.BatchKey) (*domain.Batch, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Batch, error)
	ListScheduled(ctx context.Context) ([]domain.Batch, error)
	CountByCourse(ctx context.Context, courseID string) (int64, error)
	UpdateSchedule(ctx context.Context, key domain.BatchKey, scheduleTime *string) error
	UpdateItemCount(ctx context.Context, key domain.BatchKey, itemCount int) error
	Delete(ctx context.Context, key domain.BatchKey) error
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	model := batchModelFromDomain(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return domain.ErrConflict
		}
		return err
	}
	if b != nil {
		*b = *batchModelToDomain(model)
	}
	return nil
}

func (r *GormBatchRepo) GetByKey(ctx context.Context, key domain.BatchKey) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND course_id = ?", key.OwnerID, key.CourseID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Batch, error) {
	var models []BatchModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return batchModelsToDomain(models), nil
}

func (r *GormBatchRepo) ListScheduled(ctx context.Context) ([]domain.Batch, error) {
	var models []BatchModel
	err := r.db.WithContext(ctx).
		Where("schedule_time IS NOT NULL AND schedule_time <> ''").
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return batchModelsToDomain(models), nil
}

func (r *GormBatchRepo) CountByCourse(ctx context.Context, courseID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("course_id = ?", courseID).
		Count(&count).Error
	return count, err
}

func (r *GormBatchRepo) UpdateSchedule(ctx context.Context, key domain.BatchKey, scheduleTime *string) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("owner_id = ? AND course_id = ?", key.OwnerID, key.CourseID).
		Update("schedule_time", scheduleTime)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormBatchRepo) UpdateItemCount(ctx context.Context, key domain.BatchKey, itemCount int) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("owner_id = ? AND course_id = ?", key.OwnerID, key.CourseID).
		Update("item_count", itemCount)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormBatchRepo) Delete(ctx context.Context, key domain.BatchKey) error {
	result := r.db.WithContext(ctx).
		Where("owner_id = ? AND course_id = ?", key.OwnerID, key.CourseID).
		Delete(&BatchModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func batchModelsToDomain(models []BatchModel) []domain.Batch {
	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}
	return batches
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
