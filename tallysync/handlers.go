package tallysync

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/tallysync_backend/models"
	"github.com/mmdatafocus/tallysync_backend/tally"
	"github.com/shopspring/decimal"
)

func parseIdParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func CreateCompanyHandler(s *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCompany
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		company, err := models.CreateCompany(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if company.IsActive {
			s.ScheduleCompany(company.ID, company.SyncIntervalMinutes)
		}
		c.JSON(http.StatusCreated, company)
	}
}

func UpdateCompanyHandler(s *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c, "id")
		if !ok {
			return
		}
		var input models.NewCompany
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		company, err := models.UpdateCompany(c.Request.Context(), id, &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if company.IsActive {
			s.ScheduleCompany(company.ID, company.SyncIntervalMinutes)
		} else {
			s.RemoveCompanySchedule(company.ID)
		}
		c.JSON(http.StatusOK, company)
	}
}

func DeleteCompanyHandler(s *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c, "id")
		if !ok {
			return
		}
		s.RemoveCompanySchedule(id)
		if err := models.DeleteCompany(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func GetCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c, "id")
		if !ok {
			return
		}
		company, err := models.GetCompanyById(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if company == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "company not found"})
			return
		}
		c.JSON(http.StatusOK, company)
	}
}

func ListCompaniesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companies, err := models.ListCompanies(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": companies})
	}
}

// TriggerSyncHandler queues an immediate sync. The work happens in the
// background; 202 means accepted, not finished.
func TriggerSyncHandler(s *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c, "id")
		if !ok {
			return
		}
		company, err := models.GetCompanyById(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if company == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "company not found"})
			return
		}
		if !company.IsActive {
			c.JSON(http.StatusConflict, gin.H{"error": "company is inactive"})
			return
		}
		s.TriggerSync(id)
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c, "id")
		if !ok {
			return
		}
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		logs, err := models.ListSyncLogs(c.Request.Context(), id, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": logs})
	}
}

// ProbeHandler tests connectivity against an arbitrary host before the
// user saves it as a company. Unreachable hosts are a 200 with
// success=false, not an HTTP error.
func ProbeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProbeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		client := tally.NewClient(req.Host, req.Port)
		success, message, companies, version := client.TestConnection(c.Request.Context())
		if companies == nil {
			companies = []string{}
		}
		c.JSON(http.StatusOK, ConnectionTestResult{
			Success:       success,
			Message:       message,
			OpenCompanies: companies,
			Version:       version,
		})
	}
}

func ListStockItemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c, "id")
		if !ok {
			return
		}
		lowStockOnly := c.Query("low_stock") == "true"
		items, err := models.ListStockItems(c.Request.Context(), id, lowStockOnly)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

type setReorderLevelRequest struct {
	TallyName    string  `json:"tally_name" binding:"required"`
	ReorderLevel float64 `json:"reorder_level" binding:"min=0"`
}

func SetReorderLevelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c, "id")
		if !ok {
			return
		}
		var req setReorderLevelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := models.SetReorderLevel(c.Request.Context(), id, req.TallyName, req.ReorderLevel); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func ListLedgersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c, "id")
		if !ok {
			return
		}
		ledgers, err := models.ListLedgers(c.Request.Context(), id, c.Query("type"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": ledgers})
	}
}

func ListVouchersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c, "id")
		if !ok {
			return
		}
		limit := 0
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		vouchers, err := models.ListVouchers(c.Request.Context(), id, c.Query("type"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": vouchers})
	}
}

func CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		order, err := models.CreateOrder(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, order)
	}
}

func GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c, "id")
		if !ok {
			return
		}
		order, err := models.GetOrderById(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if order == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c, "id")
		if !ok {
			return
		}
		limit := 0
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		orders, err := models.ListOrders(c.Request.Context(), id, c.Query("type"), c.Query("status"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": orders})
	}
}

// PushOrderHandler sends a draft order to Tally as a voucher. Tally
// rejecting the voucher is still a 200 with success=false; only local
// errors (missing order, already pushed) map to HTTP error codes.
func PushOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		order, err := models.GetOrderById(ctx, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if order == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		if order.Status == models.OrderStatusPushed {
			c.JSON(http.StatusConflict, gin.H{"error": "order already pushed"})
			return
		}
		company, err := models.GetCompanyById(ctx, order.CompanyId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if company == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "company not found"})
			return
		}

		lines := make([]tally.OrderLine, 0, len(order.Items))
		for _, item := range order.Items {
			lines = append(lines, tally.OrderLine{
				StockItemName: item.StockItemName,
				Quantity:      decimal.NewFromFloat(item.Quantity),
				Rate:          decimal.NewFromFloat(item.Rate),
				Amount:        decimal.NewFromFloat(item.Amount),
				UOM:           item.UOM,
			})
		}

		client := tally.NewClient(company.Host, company.Port)
		var success bool
		var message, voucherNumber string
		if order.OrderType == models.OrderTypePurchase {
			success, message, voucherNumber = client.PushPurchaseOrder(ctx,
				company.TallyCompanyName, order.OrderNumber, order.OrderDate,
				order.PartyName, lines, order.Narration)
		} else {
			success, message, voucherNumber = client.PushSalesOrder(ctx,
				company.TallyCompanyName, order.OrderNumber, order.OrderDate,
				order.PartyName, lines, order.Narration)
		}

		if success {
			if voucherNumber == "" {
				voucherNumber = order.OrderNumber
			}
			if err := models.MarkOrderPushed(ctx, order.ID, voucherNumber); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, PushResult{
			Success:            success,
			Message:            message,
			TallyVoucherNumber: voucherNumber,
		})
	}
}

// EventsHandler streams sync events over SSE. ?company_id=N narrows the
// stream to one company; otherwise the client gets everything.
func EventsHandler(b *Broadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		channel := BroadcastChannel
		if v := strings.TrimSpace(c.Query("company_id")); v != "" {
			id, err := strconv.ParseUint(v, 10, 32)
			if err != nil || id == 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company_id"})
				return
			}
			channel = CompanyChannel(uint(id))
		}

		sub := b.Subscribe(channel)
		defer b.Unsubscribe(channel, sub)

		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")

		keepalive := time.NewTicker(30 * time.Second)
		defer keepalive.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case event, ok := <-sub:
				if !ok {
					return false
				}
				c.SSEvent(event.Name, event.Data)
				return true
			case <-keepalive.C:
				c.SSEvent("keepalive", gin.H{"ts": time.Now().UTC().Format(time.RFC3339)})
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}
