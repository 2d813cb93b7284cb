package tallysync

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/tallysync_backend/config"
	"github.com/mmdatafocus/tallysync_backend/models"
	"github.com/mmdatafocus/tallysync_backend/tally"
)

// voucherTypesToSync are the voucher registers pulled on every run.
var voucherTypesToSync = []string{"Sales Order", "Purchase Order"}

const defaultLookbackDays = 30

// TallyReader is the slice of the Tally client the engine needs; tests
// substitute a stub.
type TallyReader interface {
	FetchStockItems(ctx context.Context, companyName string) ([]tally.StockItem, error)
	FetchLedgers(ctx context.Context, companyName string) ([]tally.Ledger, error)
	FetchVouchers(ctx context.Context, companyName string, voucherType string, daysBack int) ([]tally.Voucher, error)
}

// Engine runs the per-company sync state machine: fetch stock items,
// ledgers and recent vouchers from Tally, reconcile them into the cache,
// record a run log and notify subscribers.
type Engine struct {
	events       *Broadcaster
	clientFor    func(host string, port int) TallyReader
	lookbackDays int
}

func NewEngine(events *Broadcaster) *Engine {
	lookback := defaultLookbackDays
	if v := strings.TrimSpace(os.Getenv("SYNC_LOOKBACK_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lookback = n
		}
	}
	return &Engine{
		events: events,
		clientFor: func(host string, port int) TallyReader {
			return tally.NewClient(host, port)
		},
		lookbackDays: lookback,
	}
}

// SyncCompany runs one full sync for a company. It never returns an error
// and never panics out: every failure ends in a FAILED SyncLog row plus a
// sync_error event, leaving the next scheduled run unaffected.
func (e *Engine) SyncCompany(ctx context.Context, companyId uint) {
	logger := config.GetLogger()
	startedAt := time.Now().UTC()
	total := 0
	voucherTypeFailures := 0

	company, err := models.GetCompanyById(ctx, companyId)
	if err == nil && (company == nil || !company.IsActive) {
		logger.WithField("module", "tallysync").
			Warnf("SyncCompany: company %d not found or inactive", companyId)
		return
	}

	if err == nil {
		err = func() (runErr error) {
			defer func() {
				if r := recover(); r != nil {
					runErr = fmt.Errorf("panic during sync: %v", r)
				}
			}()

			logger.WithField("module", "tallysync").
				Infof("starting sync for company %q (%s:%d)", company.Name, company.Host, company.Port)
			client := e.clientFor(company.Host, company.Port)

			count, stockErr := e.syncStock(ctx, company, client)
			if stockErr != nil {
				return stockErr
			}
			total += count

			count, ledgerErr := e.syncLedgers(ctx, company, client)
			if ledgerErr != nil {
				return ledgerErr
			}
			total += count

			count, failures, voucherErr := e.syncVouchers(ctx, company, client)
			if voucherErr != nil {
				return voucherErr
			}
			total += count
			voucherTypeFailures = failures

			syncedAt := time.Now().UTC()
			if touchErr := models.TouchCompanyLastSynced(ctx, companyId, syncedAt); touchErr != nil {
				return touchErr
			}
			company.LastSyncedAt = &syncedAt
			return nil
		}()
	}

	completedAt := time.Now().UTC()
	duration := completedAt.Sub(startedAt).Seconds()

	if err != nil {
		config.LogError(logger, "tallysync", "SyncCompany",
			fmt.Sprintf("company %d", companyId), nil, err)
		e.writeSyncLog(ctx, companyId, models.SyncStatusFailed, total, err.Error(), startedAt, completedAt, duration)
		e.events.Broadcast("sync_error", map[string]any{
			"company_id": companyId,
			"error":      err.Error(),
		}, companyId)
		return
	}

	status := models.SyncStatusSuccess
	if voucherTypeFailures > 0 {
		status = models.SyncStatusPartial
	}
	e.writeSyncLog(ctx, companyId, status, total, "", startedAt, completedAt, duration)

	logger.WithField("module", "tallysync").
		Infof("sync complete for %q: %d records in %.1fs", company.Name, total, duration)

	e.events.Broadcast("sync_complete", map[string]any{
		"company_id":   companyId,
		"company_name": company.Name,
		"records":      total,
		"synced_at":    company.LastSyncedAt.Format(time.RFC3339),
		"duration_s":   math.Round(duration*100) / 100,
	}, companyId)
}

func (e *Engine) syncStock(ctx context.Context, company *models.Company, client TallyReader) (int, error) {
	items, err := client.FetchStockItems(ctx, company.TallyCompanyName)
	if err != nil {
		return 0, err
	}
	rows := make([]models.StockItem, 0, len(items))
	for _, item := range items {
		rows = append(rows, models.StockItem{
			TallyName:    item.TallyName,
			Alias:        item.Alias,
			GroupName:    item.GroupName,
			UOM:          item.UOM,
			ClosingQty:   item.ClosingQty,
			ClosingValue: item.ClosingValue,
			Rate:         item.Rate,
		})
	}
	return models.UpsertStockItems(ctx, company.ID, rows)
}

func (e *Engine) syncLedgers(ctx context.Context, company *models.Company, client TallyReader) (int, error) {
	ledgers, err := client.FetchLedgers(ctx, company.TallyCompanyName)
	if err != nil {
		return 0, err
	}
	rows := make([]models.Ledger, 0, len(ledgers))
	for _, ledger := range ledgers {
		rows = append(rows, models.Ledger{
			TallyName:      ledger.TallyName,
			Alias:          ledger.Alias,
			GroupName:      ledger.GroupName,
			LedgerType:     ledger.LedgerType,
			OpeningBalance: ledger.OpeningBalance,
			ClosingBalance: ledger.ClosingBalance,
		})
	}
	return models.UpsertLedgers(ctx, company.ID, rows)
}

// syncVouchers pulls each voucher register independently: a fetch failure
// for one type is logged and skipped so the other type still attempts.
// Reconciliation (upsert) failures do abort the run.
func (e *Engine) syncVouchers(ctx context.Context, company *models.Company, client TallyReader) (int, int, error) {
	total := 0
	failures := 0
	for _, voucherType := range voucherTypesToSync {
		vouchers, err := client.FetchVouchers(ctx, company.TallyCompanyName, voucherType, e.lookbackDays)
		if err != nil {
			failures++
			config.GetLogger().WithField("module", "tallysync").
				Warnf("could not sync %q vouchers for %q: %v", voucherType, company.Name, err)
			continue
		}
		rows := make([]models.VoucherCache, 0, len(vouchers))
		for _, voucher := range vouchers {
			rows = append(rows, models.VoucherCache{
				VoucherNumber: voucher.VoucherNumber,
				VoucherType:   voucherType,
				VoucherDate:   voucher.VoucherDate,
				PartyName:     voucher.PartyName,
				Narration:     voucher.Narration,
				Amount:        voucher.Amount,
			})
		}
		count, err := models.UpsertVouchers(ctx, company.ID, rows)
		if err != nil {
			return total, failures, err
		}
		total += count
	}
	return total, failures, nil
}

func (e *Engine) writeSyncLog(ctx context.Context, companyId uint, status string, records int, errMsg string, startedAt, completedAt time.Time, duration float64) {
	log := models.SyncLog{
		CompanyId:       companyId,
		SyncType:        models.SyncTypeFull,
		Status:          status,
		RecordsSynced:   records,
		ErrorMessage:    errMsg,
		StartedAt:       startedAt,
		CompletedAt:     completedAt,
		DurationSeconds: math.Round(duration*100) / 100,
	}
	if err := models.CreateSyncLog(ctx, &log); err != nil {
		config.LogError(config.GetLogger(), "tallysync", "writeSyncLog",
			fmt.Sprintf("company %d", companyId), nil, err)
	}
}
