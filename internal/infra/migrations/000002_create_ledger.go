package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notification-ledger/internal/repository"
	"gorm.io/gorm"
)

func createLedgerTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_ledger",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.TransactionModel{}, &repository.ReservationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_tx_account_seq ON ledger_transactions (account_id, seq)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_tx_idempotency_key ON ledger_transactions (account_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_ledger_tx_reservation_id ON ledger_transactions (reservation_id) WHERE reservation_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_reservations_pending ON reservations (account_id, created_at) WHERE state = 'PENDING'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ReservationModel{}, &repository.TransactionModel{})
		},
	}
}
