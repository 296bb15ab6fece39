package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addBatchesScheduleIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_add_batches_schedule_index",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`CREATE INDEX IF NOT EXISTS idx_batches_scheduled ON batches (schedule_time) WHERE schedule_time IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_states_incomplete ON delivery_states (updated_at) WHERE status <> 'COMPLETED'`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			statements := []string{
				`DROP INDEX IF EXISTS idx_delivery_states_incomplete`,
				`DROP INDEX IF EXISTS idx_batches_scheduled`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
