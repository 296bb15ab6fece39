package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/course-relay/internal/repository"
	"gorm.io/gorm"
)

func createDeliveredAssetsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_delivered_assets",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveredAssetModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_delivered_assets_course ON delivered_assets (course_id)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveredAssetModel{})
		},
	}
}
