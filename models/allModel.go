package models

import "github.com/mmdatafocus/tallysync_backend/config"

// MigrateTable creates/updates the schema. Call once at startup after the
// database connection is established.
func MigrateTable() error {
	return config.GetDB().AutoMigrate(
		&Company{},
		&StockItem{},
		&Ledger{},
		&VoucherCache{},
		&SyncLog{},
		&Order{},
		&OrderItem{},
	)
}
