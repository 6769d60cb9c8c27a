package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PurchaseOrderStatus string

const (
	PurchaseOrderStatusPending           PurchaseOrderStatus = "Pending"
	PurchaseOrderStatusPartiallyReceived PurchaseOrderStatus = "Partially Received"
	PurchaseOrderStatusReceived          PurchaseOrderStatus = "Received"
)

const PoNumberPrefix = "PO"

var validate = validator.New()

type PurchaseOrder struct {
	ID            int                   `gorm:"primary_key" json:"id"`
	BusinessId    string                `gorm:"size:64;index;not null;uniqueIndex:idx_po_series_number,priority:1" json:"business_id"`
	OrderNumber   string                `gorm:"size:255;not null;uniqueIndex:idx_po_series_number,priority:2" json:"order_number"`
	SequenceNo    decimal.Decimal       `gorm:"type:decimal(15);not null" json:"sequence_no"`
	FiscalYear    string                `gorm:"size:10;index;not null" json:"fiscal_year"`
	SupplierName  string                `gorm:"size:255;default:null" json:"supplier_name"`
	OrderDate     time.Time             `gorm:"not null" json:"order_date"`
	Notes         string                `gorm:"type:text;default:null" json:"notes"`
	CurrentStatus PurchaseOrderStatus   `gorm:"type:enum('Pending','Partially Received','Received');not null" json:"current_status"`
	Details       []PurchaseOrderDetail `json:"purchase_order_details"`
	CreatedAt     time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseOrderDetail struct {
	ID              int             `gorm:"primary_key" json:"id"`
	PurchaseOrderId int             `gorm:"index;not null" json:"purchase_order_id"`
	BrandName       string          `gorm:"size:100;not null" json:"brand_name"`
	ModelNo         string          `gorm:"size:100;not null" json:"model_no"`
	Description     string          `gorm:"size:255;default:null" json:"description"`
	OrderedQty      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"ordered_qty"`
	ReceivedQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"received_qty"`
}

type NewPurchaseOrder struct {
	SupplierName string                   `json:"supplier_name"`
	OrderDate    time.Time                `json:"order_date" binding:"required" validate:"required"`
	Notes        string                   `json:"notes"`
	Details      []NewPurchaseOrderDetail `json:"details" binding:"required,dive" validate:"required,min=1,dive"`
}

type NewPurchaseOrderDetail struct {
	BrandName   string          `json:"brand_name" binding:"required" validate:"required"`
	ModelNo     string          `json:"model_no" binding:"required" validate:"required"`
	Description string          `json:"description"`
	OrderedQty  decimal.Decimal `json:"ordered_qty" binding:"required"`
}

// ReceiptLineDelta is one received-quantity increment from a goods received
// note, addressed to an order line by its (brand name, model no) key.
type ReceiptLineDelta struct {
	BrandName string
	ModelNo   string
	Quantity  decimal.Decimal
}

func (input NewPurchaseOrder) validate() error {
	if err := validate.Struct(input); err != nil {
		return err
	}
	for _, detail := range input.Details {
		if !detail.OrderedQty.IsPositive() {
			return errors.New("ordered qty must be greater than zero")
		}
	}
	return nil
}

// ComputeReceiptStatus derives the order status from line quantities alone.
// It is recomputed fresh on every mutation, never patched incrementally, so
// the status can never drift from the quantities it summarizes.
func ComputeReceiptStatus(details []PurchaseOrderDetail) PurchaseOrderStatus {
	if len(details) == 0 {
		return PurchaseOrderStatusPending
	}
	allReceived := true
	anyReceived := false
	for _, detail := range details {
		if detail.ReceivedQty.IsPositive() {
			anyReceived = true
		}
		if !detail.ReceivedQty.Equal(detail.OrderedQty) {
			allReceived = false
		}
	}
	if allReceived {
		return PurchaseOrderStatusReceived
	}
	if anyReceived {
		return PurchaseOrderStatusPartiallyReceived
	}
	return PurchaseOrderStatusPending
}

// ApplyReceiptDeltas stages all deltas against the in-memory order and applies
// them only if every one passes the over-receipt check: either the whole
// receipt lands or the order is left untouched. Deltas that reference material
// outside this order are returned as skipped, not treated as failures.
// The caller persists the returned details and the recomputed status.
func (po *PurchaseOrder) ApplyReceiptDeltas(deltas []ReceiptLineDelta) (applied []*PurchaseOrderDetail, skipped []ReceiptLineDelta, err error) {
	staged := make(map[int]decimal.Decimal)

	for _, delta := range deltas {
		if !delta.Quantity.IsPositive() {
			return nil, nil, errors.New("received qty must be greater than zero")
		}
		idx := -1
		for i := range po.Details {
			if po.Details[i].BrandName == delta.BrandName && po.Details[i].ModelNo == delta.ModelNo {
				idx = i
				break
			}
		}
		if idx < 0 {
			skipped = append(skipped, delta)
			continue
		}
		current, ok := staged[idx]
		if !ok {
			current = po.Details[idx].ReceivedQty
		}
		newReceived := current.Add(delta.Quantity)
		if newReceived.GreaterThan(po.Details[idx].OrderedQty) {
			return nil, nil, &utils.OverReceiptError{
				BrandName:      delta.BrandName,
				ModelNo:        delta.ModelNo,
				Ordered:        po.Details[idx].OrderedQty,
				AttemptedTotal: newReceived,
			}
		}
		staged[idx] = newReceived
	}

	for idx, newReceived := range staged {
		po.Details[idx].ReceivedQty = newReceived
		applied = append(applied, &po.Details[idx])
	}
	po.CurrentStatus = ComputeReceiptStatus(po.Details)
	return applied, skipped, nil
}

func CreatePurchaseOrder(ctx context.Context, input *NewPurchaseOrder) (*PurchaseOrder, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(); err != nil {
		return nil, err
	}

	var orderItems []PurchaseOrderDetail
	for _, item := range input.Details {
		orderItems = append(orderItems, PurchaseOrderDetail{
			BrandName:   item.BrandName,
			ModelNo:     item.ModelNo,
			Description: item.Description,
			OrderedQty:  item.OrderedQty,
			ReceivedQty: decimal.Zero,
		})
	}

	fiscalYear := utils.FiscalYearFromDate(input.OrderDate)

	tx := db.Begin()
	// IMPORTANT: always rollback on early-return or panic to avoid leaking DB locks
	// (leaked transactions are a common cause of MySQL 1205 lock wait timeouts).
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	orderNumber, seqNo, err := generateDocumentNumber[PurchaseOrder](ctx, businessId, PoNumberPrefix, fiscalYear, "order_number")
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	purchaseOrder := PurchaseOrder{
		BusinessId:    businessId,
		OrderNumber:   orderNumber,
		SequenceNo:    decimal.NewFromInt(seqNo),
		FiscalYear:    fiscalYear,
		SupplierName:  input.SupplierName,
		OrderDate:     input.OrderDate,
		Notes:         input.Notes,
		CurrentStatus: PurchaseOrderStatusPending,
		Details:       orderItems,
	}

	if err := tx.WithContext(ctx).Create(&purchaseOrder).Error; err != nil {
		tx.Rollback()
		if utils.IsDuplicateKey(err) {
			// The number passed the pre-check but lost a race at persist.
			// Surfaced as a numbering conflict, never a silent duplicate.
			return nil, &utils.SequenceExhaustedError{
				BusinessId: businessId,
				Prefix:     PoNumberPrefix,
				FiscalYear: fiscalYear,
				Attempts:   maxNumberAttempts,
			}
		}
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &purchaseOrder, nil
}

func GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var purchaseOrder PurchaseOrder
	err := db.WithContext(ctx).Preload("Details").
		Where("business_id = ? AND id = ?", businessId, id).
		First(&purchaseOrder).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &utils.OrderNotFoundError{OrderId: id}
		}
		return nil, err
	}
	return &purchaseOrder, nil
}
