package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notification-ledger/internal/repository"
	"gorm.io/gorm"
)

func createAccountsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_accounts",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.AccountModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.AccountModel{})
		},
	}
}
