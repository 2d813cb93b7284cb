package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/tallysync_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VoucherCache is a cached remote transaction, keyed by
// (company_id, voucher_number, voucher_type). Amounts are absolute values.
type VoucherCache struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	CompanyId     uint       `gorm:"uniqueIndex:idx_voucher_natural_key,priority:1;not null" json:"company_id"`
	Company       *Company   `gorm:"foreignKey:CompanyId;constraint:OnDelete:CASCADE" json:"-"`
	VoucherNumber string     `gorm:"uniqueIndex:idx_voucher_natural_key,priority:2;size:100;not null" json:"voucher_number"`
	VoucherType   string     `gorm:"uniqueIndex:idx_voucher_natural_key,priority:3;size:100;not null" json:"voucher_type"`
	VoucherDate   *time.Time `json:"voucher_date"`
	PartyName     string     `gorm:"size:300" json:"party_name"`
	Narration     string     `gorm:"type:text" json:"narration"`
	Amount        float64    `gorm:"default:0" json:"amount"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`
}

// UpsertVouchers upserts fetched vouchers by natural key. Vouchers without
// a number cannot be deduplicated and are dropped; the returned count
// covers only the rows written.
func UpsertVouchers(ctx context.Context, companyId uint, incoming []VoucherCache) (int, error) {
	now := time.Now().UTC()
	rows := make([]VoucherCache, 0, len(incoming))
	for _, voucher := range incoming {
		if voucher.VoucherNumber == "" {
			continue
		}
		voucher.CompanyId = companyId
		voucher.LastSyncedAt = &now
		rows = append(rows, voucher)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err := config.GetDB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "company_id"}, {Name: "voucher_number"}, {Name: "voucher_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"voucher_date":   gorm.Expr("VALUES(voucher_date)"),
			"party_name":     gorm.Expr("VALUES(party_name)"),
			"narration":      gorm.Expr("VALUES(narration)"),
			"amount":         gorm.Expr("VALUES(amount)"),
			"last_synced_at": gorm.Expr("VALUES(last_synced_at)"),
		}),
	}).CreateInBatches(&rows, 500).Error
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func ListVouchers(ctx context.Context, companyId uint, voucherType string, limit int) ([]VoucherCache, error) {
	db := config.GetDB().WithContext(ctx).Where("company_id = ?", companyId)
	if voucherType != "" {
		db = db.Where("voucher_type = ?", voucherType)
	}
	if limit <= 0 {
		limit = 100
	}
	var vouchers []VoucherCache
	err := db.Order("voucher_date desc, id desc").Limit(limit).Find(&vouchers).Error
	return vouchers, err
}
