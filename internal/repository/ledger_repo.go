package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/course-relay/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeliveredAssetRepository is the dedup ledger keyed by (course, location).
type DeliveredAssetRepository interface {
	Exists(ctx context.Context, courseID string, location string) (bool, error)
	Create(ctx context.Context, a *domain.DeliveredAsset) error
	CountByCourse(ctx context.Context, courseID string) (int64, error)
	DeleteByCourse(ctx context.Context, courseID string) error
}

type GormDeliveredAssetRepo struct {
	db *gorm.DB
}

func NewGormDeliveredAssetRepo(db *gorm.DB) *GormDeliveredAssetRepo {
	return &GormDeliveredAssetRepo{db: db}
}

func (r *GormDeliveredAssetRepo) Exists(ctx context.Context, courseID string, location string) (bool, error) {
	var model DeliveredAssetModel
	err := r.db.WithContext(ctx).
		Select("course_id").
		Where("course_id = ? AND location = ?", courseID, location).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create inserts the ledger row. An existing row for the same key is kept untouched.
func (r *GormDeliveredAssetRepo) Create(ctx context.Context, a *domain.DeliveredAsset) error {
	model := deliveredAssetModelFromDomain(a)
	if model == nil {
		return errors.New("delivered asset is required")
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model).Error; err != nil {
		return err
	}
	*a = *deliveredAssetModelToDomain(model)
	return nil
}

func (r *GormDeliveredAssetRepo) CountByCourse(ctx context.Context, courseID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&DeliveredAssetModel{}).
		Where("course_id = ?", courseID).
		Count(&count).Error
	return count, err
}

func (r *GormDeliveredAssetRepo) DeleteByCourse(ctx context.Context, courseID string) error {
	return r.db.WithContext(ctx).
		Where("course_id = ?", courseID).
		Delete(&DeliveredAssetModel{}).Error
}
