package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/tallysync_backend/config"
)

const (
	SyncTypeFull    = "FULL"
	SyncTypeStock   = "STOCK"
	SyncTypeLedger  = "LEDGER"
	SyncTypeVoucher = "VOUCHER"
)

const (
	SyncStatusSuccess = "SUCCESS"
	SyncStatusFailed  = "FAILED"
	SyncStatusPartial = "PARTIAL"
)

// SyncLog is an append-only audit record, one row per sync attempt.
// Rows are never mutated after completion.
type SyncLog struct {
	ID              uint      `gorm:"primary_key" json:"id"`
	CompanyId       uint      `gorm:"index;not null" json:"company_id"`
	Company         *Company  `gorm:"foreignKey:CompanyId;constraint:OnDelete:CASCADE" json:"-"`
	SyncType        string    `gorm:"size:50;not null" json:"sync_type"`
	Status          string    `gorm:"size:20;not null" json:"status"`
	RecordsSynced   int       `gorm:"default:0" json:"records_synced"`
	ErrorMessage    string    `gorm:"type:text" json:"error_message"`
	StartedAt       time.Time `gorm:"not null" json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func CreateSyncLog(ctx context.Context, log *SyncLog) error {
	return config.GetDB().WithContext(ctx).Create(log).Error
}

func ListSyncLogs(ctx context.Context, companyId uint, limit int) ([]SyncLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var logs []SyncLog
	err := config.GetDB().WithContext(ctx).
		Where("company_id = ?", companyId).
		Order("id desc").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
