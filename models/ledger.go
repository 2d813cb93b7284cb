package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/tallysync_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger is a cached party record from Tally, keyed by
// (company_id, tally_name). Unlike stock items there are no user-owned
// fields: a sync overwrites everything.
type Ledger struct {
	ID             uint       `gorm:"primary_key" json:"id"`
	CompanyId      uint       `gorm:"uniqueIndex:idx_ledger_company_name,priority:1;not null" json:"company_id"`
	Company        *Company   `gorm:"foreignKey:CompanyId;constraint:OnDelete:CASCADE" json:"-"`
	TallyName      string     `gorm:"uniqueIndex:idx_ledger_company_name,priority:2;size:300;not null" json:"tally_name"`
	Alias          string     `gorm:"size:300" json:"alias"`
	GroupName      string     `gorm:"size:200" json:"group_name"`
	LedgerType     string     `gorm:"size:20" json:"ledger_type"`
	OpeningBalance float64    `gorm:"default:0" json:"opening_balance"`
	ClosingBalance float64    `gorm:"default:0" json:"closing_balance"`
	LastSyncedAt   *time.Time `json:"last_synced_at"`
}

// UpsertLedgers bulk-upserts one company's fetched ledger snapshot, full
// overwrite by natural key. Rows absent from the snapshot stay untouched.
func UpsertLedgers(ctx context.Context, companyId uint, incoming []Ledger) (int, error) {
	if len(incoming) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]Ledger, 0, len(incoming))
	for _, ledger := range incoming {
		ledger.CompanyId = companyId
		ledger.LastSyncedAt = &now
		rows = append(rows, ledger)
	}

	err := config.GetDB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "company_id"}, {Name: "tally_name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"alias":           gorm.Expr("VALUES(alias)"),
			"group_name":      gorm.Expr("VALUES(group_name)"),
			"ledger_type":     gorm.Expr("VALUES(ledger_type)"),
			"opening_balance": gorm.Expr("VALUES(opening_balance)"),
			"closing_balance": gorm.Expr("VALUES(closing_balance)"),
			"last_synced_at":  gorm.Expr("VALUES(last_synced_at)"),
		}),
	}).CreateInBatches(&rows, 500).Error
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func ListLedgers(ctx context.Context, companyId uint, ledgerType string) ([]Ledger, error) {
	db := config.GetDB().WithContext(ctx).Where("company_id = ?", companyId)
	if ledgerType != "" {
		db = db.Where("ledger_type = ?", ledgerType)
	}
	var ledgers []Ledger
	err := db.Order("tally_name").Find(&ledgers).Error
	return ledgers, err
}
