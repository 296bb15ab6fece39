package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/course-relay/internal/repository"
	"gorm.io/gorm"
)

func createArchiveAndTopicTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_archive_and_topics",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.ArchivedMessageModel{}, &repository.TopicChannelModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TopicChannelModel{}, &repository.ArchivedMessageModel{})
		},
	}
}
