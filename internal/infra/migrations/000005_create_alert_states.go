package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notification-ledger/internal/repository"
	"gorm.io/gorm"
)

func createAlertStatesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_alert_states",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.AlertStateModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.AlertStateModel{})
		},
	}
}
