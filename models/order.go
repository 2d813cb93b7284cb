package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/tallysync_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	OrderTypeSales    = "SALES"
	OrderTypePurchase = "PURCHASE"
)

const (
	OrderStatusDraft     = "DRAFT"
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusPushed    = "PUSHED"
	OrderStatusCancelled = "CANCELLED"
)

// Order is a locally composed sales or purchase order. It stays DRAFT
// until the user pushes it to Tally, at which point the voucher number
// Tally assigned (or the one we sent) is recorded.
type Order struct {
	ID                 uint        `gorm:"primary_key" json:"id"`
	CompanyId          uint        `gorm:"index;not null" json:"company_id"`
	Company            *Company    `gorm:"foreignKey:CompanyId;constraint:OnDelete:CASCADE" json:"-"`
	OrderNumber        string      `gorm:"size:100;not null" json:"order_number"`
	OrderType          string      `gorm:"size:20;not null" json:"order_type"`
	OrderDate          time.Time   `gorm:"not null" json:"order_date"`
	PartyName          string      `gorm:"size:300;not null" json:"party_name"`
	Status             string      `gorm:"size:20;default:DRAFT" json:"status"`
	TallyVoucherNumber string      `gorm:"size:100" json:"tally_voucher_number"`
	Narration          string      `gorm:"type:text" json:"narration"`
	TotalAmount        float64     `gorm:"default:0" json:"total_amount"`
	PushedAt           *time.Time  `json:"pushed_at"`
	Items              []OrderItem `gorm:"foreignKey:OrderId" json:"items"`
	CreatedAt          time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

type OrderItem struct {
	ID            uint    `gorm:"primary_key" json:"id"`
	OrderId       uint    `gorm:"index;not null" json:"order_id"`
	Order         *Order  `gorm:"foreignKey:OrderId;constraint:OnDelete:CASCADE" json:"-"`
	StockItemName string  `gorm:"size:300;not null" json:"stock_item_name"`
	Quantity      float64 `gorm:"not null" json:"quantity"`
	Rate          float64 `gorm:"not null" json:"rate"`
	UOM           string  `gorm:"size:50" json:"uom"`
	Amount        float64 `gorm:"not null" json:"amount"`
}

type NewOrderItem struct {
	StockItemName string  `json:"stock_item_name" validate:"required,max=300"`
	Quantity      float64 `json:"quantity" validate:"required,gt=0"`
	Rate          float64 `json:"rate" validate:"required,gt=0"`
	UOM           string  `json:"uom" validate:"max=50"`
}

type NewOrder struct {
	CompanyId uint           `json:"company_id" validate:"required"`
	OrderType string         `json:"order_type" validate:"required,oneof=SALES PURCHASE"`
	OrderDate time.Time      `json:"order_date" validate:"required"`
	PartyName string         `json:"party_name" validate:"required,max=300"`
	Narration string         `json:"narration"`
	Items     []NewOrderItem `json:"items" validate:"required,min=1,dive"`
}

var orderNumberPrefix = map[string]string{
	OrderTypeSales:    "SO",
	OrderTypePurchase: "PO",
}

func generateOrderNumber(ctx context.Context, companyId uint, orderType string) (string, error) {
	prefix, ok := orderNumberPrefix[orderType]
	if !ok {
		prefix = "ORD"
	}
	var count int64
	err := config.GetDB().WithContext(ctx).
		Model(&Order{}).
		Where("company_id = ? AND order_type = ?", companyId, orderType).
		Count(&count).Error
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, time.Now().Format("200601"), count+1), nil
}

// CreateOrder saves a draft order with its lines. Line amounts and the
// order total are computed here (quantity x rate, 2 decimals), never
// trusted from the payload.
func CreateOrder(ctx context.Context, input *NewOrder) (*Order, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	company, err := GetCompanyById(ctx, input.CompanyId)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, errors.New("company not found")
	}

	orderNumber, err := generateOrderNumber(ctx, input.CompanyId, input.OrderType)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	items := make([]OrderItem, 0, len(input.Items))
	for _, item := range input.Items {
		amount := decimal.NewFromFloat(item.Quantity).
			Mul(decimal.NewFromFloat(item.Rate)).
			Round(2)
		total = total.Add(amount)
		items = append(items, OrderItem{
			StockItemName: item.StockItemName,
			Quantity:      item.Quantity,
			Rate:          item.Rate,
			UOM:           item.UOM,
			Amount:        amount.InexactFloat64(),
		})
	}

	order := Order{
		CompanyId:   input.CompanyId,
		OrderNumber: orderNumber,
		OrderType:   input.OrderType,
		OrderDate:   input.OrderDate,
		PartyName:   input.PartyName,
		Status:      OrderStatusDraft,
		Narration:   input.Narration,
		TotalAmount: total.InexactFloat64(),
		Items:       items,
	}
	if err := config.GetDB().WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func GetOrderById(ctx context.Context, id uint) (*Order, error) {
	var order Order
	err := config.GetDB().WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func ListOrders(ctx context.Context, companyId uint, orderType string, status string, limit int) ([]Order, error) {
	db := config.GetDB().WithContext(ctx).Preload("Items").Where("company_id = ?", companyId)
	if orderType != "" {
		db = db.Where("order_type = ?", orderType)
	}
	if status != "" {
		db = db.Where("status = ?", status)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var orders []Order
	err := db.Order("created_at desc").Limit(limit).Find(&orders).Error
	return orders, err
}

// MarkOrderPushed records a successful push to Tally.
func MarkOrderPushed(ctx context.Context, id uint, voucherNumber string) error {
	now := time.Now().UTC()
	return config.GetDB().WithContext(ctx).
		Model(&Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":               OrderStatusPushed,
			"tally_voucher_number": voucherNumber,
			"pushed_at":            now,
		}).Error
}
