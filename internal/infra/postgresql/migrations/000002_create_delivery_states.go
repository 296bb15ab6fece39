package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/course-relay/internal/repository"
	"gorm.io/gorm"
)

func createDeliveryStatesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_delivery_states",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.DeliveryStateModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryStateModel{})
		},
	}
}
