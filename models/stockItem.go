package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/tallysync_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockItem is a cached inventory line from Tally, keyed by
// (company_id, tally_name). reorder_level and is_low_stock are user-owned:
// a sync must never overwrite a previously set positive reorder level.
type StockItem struct {
	ID           uint       `gorm:"primary_key" json:"id"`
	CompanyId    uint       `gorm:"uniqueIndex:idx_stock_company_name,priority:1;not null" json:"company_id"`
	Company      *Company   `gorm:"foreignKey:CompanyId;constraint:OnDelete:CASCADE" json:"-"`
	TallyName    string     `gorm:"uniqueIndex:idx_stock_company_name,priority:2;size:300;not null" json:"tally_name"`
	Alias        string     `gorm:"size:300" json:"alias"`
	GroupName    string     `gorm:"size:200" json:"group_name"`
	UOM          string     `gorm:"size:50" json:"uom"`
	ClosingQty   float64    `gorm:"default:0" json:"closing_qty"`
	ClosingValue float64    `gorm:"default:0" json:"closing_value"`
	Rate         float64    `gorm:"default:0" json:"rate"`
	ReorderLevel float64    `gorm:"default:0" json:"reorder_level"`
	IsLowStock   bool       `gorm:"default:false" json:"is_low_stock"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
}

// MergeStockItem merges a freshly fetched row into the locally cached one.
// Every Tally-owned field takes the incoming value; a positive existing
// reorder level is preserved, and the low-stock flag is recomputed from the
// preserved threshold against the incoming quantity. Pure so the
// preservation rule is testable apart from the bulk write.
func MergeStockItem(existing *StockItem, incoming StockItem) StockItem {
	merged := incoming
	if existing != nil {
		merged.ID = existing.ID
		if existing.ReorderLevel > 0 {
			merged.ReorderLevel = existing.ReorderLevel
		}
	}
	merged.IsLowStock = merged.ReorderLevel > 0 && merged.ClosingQty <= merged.ReorderLevel
	return merged
}

// UpsertStockItems bulk-upserts one company's fetched snapshot. Rows absent
// from the snapshot are left untouched. The IF() guards repeat the merge
// rule in SQL so a threshold set between the pre-read and the write still
// survives. Idempotent: identical input only refreshes last_synced_at.
func UpsertStockItems(ctx context.Context, companyId uint, incoming []StockItem) (int, error) {
	if len(incoming) == 0 {
		return 0, nil
	}
	db := config.GetDB().WithContext(ctx)

	var existingRows []StockItem
	if err := db.Select("id", "tally_name", "reorder_level").
		Where("company_id = ?", companyId).
		Find(&existingRows).Error; err != nil {
		return 0, err
	}
	existingByName := make(map[string]*StockItem, len(existingRows))
	for i := range existingRows {
		existingByName[existingRows[i].TallyName] = &existingRows[i]
	}

	now := time.Now().UTC()
	rows := make([]StockItem, 0, len(incoming))
	for _, item := range incoming {
		item.CompanyId = companyId
		item.LastSyncedAt = &now
		rows = append(rows, MergeStockItem(existingByName[item.TallyName], item))
	}

	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "company_id"}, {Name: "tally_name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"alias":          gorm.Expr("VALUES(alias)"),
			"group_name":     gorm.Expr("VALUES(group_name)"),
			"uom":            gorm.Expr("VALUES(uom)"),
			"closing_qty":    gorm.Expr("VALUES(closing_qty)"),
			"closing_value":  gorm.Expr("VALUES(closing_value)"),
			"rate":           gorm.Expr("VALUES(rate)"),
			"reorder_level":  gorm.Expr("IF(reorder_level > 0, reorder_level, VALUES(reorder_level))"),
			"is_low_stock":   gorm.Expr("IF(reorder_level > 0, VALUES(closing_qty) <= reorder_level, VALUES(is_low_stock))"),
			"last_synced_at": gorm.Expr("VALUES(last_synced_at)"),
		}),
	}).CreateInBatches(&rows, 500).Error
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func ListStockItems(ctx context.Context, companyId uint, lowStockOnly bool) ([]StockItem, error) {
	db := config.GetDB().WithContext(ctx).Where("company_id = ?", companyId)
	if lowStockOnly {
		db = db.Where("is_low_stock = ?", true)
	}
	var items []StockItem
	err := db.Order("tally_name").Find(&items).Error
	return items, err
}

// SetReorderLevel records the user-owned threshold and recomputes the
// derived flag against the current cached quantity.
func SetReorderLevel(ctx context.Context, companyId uint, tallyName string, level float64) error {
	return config.GetDB().WithContext(ctx).
		Model(&StockItem{}).
		Where("company_id = ? AND tally_name = ?", companyId, tallyName).
		Updates(map[string]interface{}{
			"reorder_level": level,
			"is_low_stock":  gorm.Expr("? > 0 AND closing_qty <= ?", level, level),
		}).Error
}
