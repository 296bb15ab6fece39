package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/course-relay/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TopicRepository interface {
	Get(ctx context.Context, destination string, subject string) (*domain.TopicChannel, error)
	Save(ctx context.Context, t *domain.TopicChannel) error
}

type GormTopicRepo struct {
	db *gorm.DB
}

func NewGormTopicRepo(db *gorm.DB) *GormTopicRepo {
	return &GormTopicRepo{db: db}
}

func (r *GormTopicRepo) Get(ctx context.Context, destination string, subject string) (*domain.TopicChannel, error) {
	var model TopicChannelModel
	err := r.db.WithContext(ctx).
		Where("destination = ? AND subject = ?", destination, subject).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return topicChannelModelToDomain(&model), nil
}

func (r *GormTopicRepo) Save(ctx context.Context, t *domain.TopicChannel) error {
	if t == nil {
		return errors.New("topic channel is required")
	}
	model := &TopicChannelModel{
		Destination: t.Destination,
		Subject:     t.Subject,
		ThreadID:    t.ThreadID,
		CreatedAt:   t.CreatedAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "destination"}, {Name: "subject"}},
			DoUpdates: clause.AssignmentColumns([]string{"thread_id"}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}
	*t = *topicChannelModelToDomain(model)
	return nil
}
