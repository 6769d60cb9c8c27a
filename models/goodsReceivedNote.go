package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const GrnNumberPrefix = "GRN"

// GoodsReceivedNote is the immutable log of one receiving event. Its number
// and line quantities never change after creation; corrections are new
// documents, so the PO's received totals stay derivable from the GRN trail.
type GoodsReceivedNote struct {
	ID              int                       `gorm:"primary_key" json:"id"`
	BusinessId      string                    `gorm:"size:64;index;not null;uniqueIndex:idx_grn_series_number,priority:1" json:"business_id"`
	GrnNumber       string                    `gorm:"size:255;not null;uniqueIndex:idx_grn_series_number,priority:2" json:"grn_number"`
	SequenceNo      decimal.Decimal           `gorm:"type:decimal(15);not null" json:"sequence_no"`
	FiscalYear      string                    `gorm:"size:10;index;not null" json:"fiscal_year"`
	PurchaseOrderId int                       `gorm:"index;default:null" json:"purchase_order_id"`
	ReceiptDate     time.Time                 `gorm:"not null" json:"receipt_date"`
	Notes           string                    `gorm:"type:text;default:null" json:"notes"`
	Details         []GoodsReceivedNoteDetail `json:"goods_received_note_details"`
	CreatedAt       time.Time                 `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time                 `gorm:"autoUpdateTime" json:"updated_at"`
}

type GoodsReceivedNoteDetail struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	GoodsReceivedNoteId int             `gorm:"index;not null" json:"goods_received_note_id"`
	BrandName           string          `gorm:"size:100;not null" json:"brand_name"`
	ModelNo             string          `gorm:"size:100;not null" json:"model_no"`
	Description         string          `gorm:"size:255;default:null" json:"description"`
	ReceivedQty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"received_qty"`
}

type NewGoodsReceivedNote struct {
	PurchaseOrderId int                          `json:"purchase_order_id"`
	ReceiptDate     time.Time                    `json:"receipt_date" binding:"required" validate:"required"`
	Notes           string                       `json:"notes"`
	Details         []NewGoodsReceivedNoteDetail `json:"details" binding:"required,dive" validate:"required,min=1,dive"`
}

type NewGoodsReceivedNoteDetail struct {
	BrandName   string          `json:"brand_name" binding:"required" validate:"required"`
	ModelNo     string          `json:"model_no" binding:"required" validate:"required"`
	Description string          `json:"description"`
	ReceivedQty decimal.Decimal `json:"received_qty" binding:"required"`
}

func (input NewGoodsReceivedNote) validate() error {
	if err := validate.Struct(input); err != nil {
		return err
	}
	for _, detail := range input.Details {
		if !detail.ReceivedQty.IsPositive() {
			return errors.New("received qty must be greater than zero")
		}
	}
	return nil
}

// CreateGoodsReceivedNote creates a receipt against an optional purchase order
// inside one DB transaction: load + lock the order, apply the quantity deltas,
// persist the updated order, then number and persist the GRN, then write the
// outbox event. Over-receipt is rejected before any sequence allocation, so a
// refused receipt never consumes a number. An abort after allocation may leak
// one (holes are accepted; duplicates never are).
//
// Returns the created GRN and the updated order (nil when unlinked).
func CreateGoodsReceivedNote(ctx context.Context, input *NewGoodsReceivedNote) (*GoodsReceivedNote, *PurchaseOrder, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, nil, errors.New("business id is required")
	}

	if err := input.validate(); err != nil {
		return nil, nil, err
	}

	fiscalYear := utils.FiscalYearFromDate(input.ReceiptDate)

	// Serialize receipts against the same order across instances. The row lock
	// below is the correctness guarantee; this keeps concurrent receipts from
	// piling up on the DB lock instead.
	if locker := config.GetRedisLock(); locker != nil && input.PurchaseOrderId > 0 {
		lockKey := fmt.Sprintf("po-receipt:%s:%d", businessId, input.PurchaseOrderId)
		lock, err := locker.Obtain(ctx, lockKey, 10*time.Second, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
		})
		if err != nil {
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, nil, &utils.RetryableError{Op: "obtain receipt lock", Err: err}
			}
			return nil, nil, err
		}
		defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
	}

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

	var purchaseOrder *PurchaseOrder
	if input.PurchaseOrderId > 0 {
		var po PurchaseOrder
		err := tx.WithContext(ctx).Preload("Details").
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ? AND id = ?", businessId, input.PurchaseOrderId).
			First(&po).Error
		if err != nil {
			tx.Rollback()
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, &utils.OrderNotFoundError{OrderId: input.PurchaseOrderId}
			}
			return nil, nil, err
		}
		purchaseOrder = &po

		deltas := make([]ReceiptLineDelta, 0, len(input.Details))
		for _, detail := range input.Details {
			deltas = append(deltas, ReceiptLineDelta{
				BrandName: detail.BrandName,
				ModelNo:   detail.ModelNo,
				Quantity:  detail.ReceivedQty,
			})
		}

		applied, skipped, err := purchaseOrder.ApplyReceiptDeltas(deltas)
		if err != nil {
			tx.Rollback()
			return nil, nil, err
		}
		if len(skipped) > 0 {
			if !config.AllowUnmatchedReceiptLines() {
				tx.Rollback()
				return nil, nil, fmt.Errorf("receipt references %d line(s) not on purchase order %d", len(skipped), purchaseOrder.ID)
			}
			config.LogWarn(config.GetLogger(), "models", "CreateGoodsReceivedNote", "receipt lines not on purchase order were skipped", map[string]interface{}{
				"business_id":       businessId,
				"purchase_order_id": purchaseOrder.ID,
				"skipped":           len(skipped),
			})
		}

		for _, detail := range applied {
			if err := tx.WithContext(ctx).Save(detail).Error; err != nil {
				tx.Rollback()
				return nil, nil, err
			}
		}
		if err := tx.WithContext(ctx).Model(purchaseOrder).
			Update("CurrentStatus", purchaseOrder.CurrentStatus).Error; err != nil {
			tx.Rollback()
			return nil, nil, err
		}
	}

	grnNumber, seqNo, err := generateDocumentNumber[GoodsReceivedNote](ctx, businessId, GrnNumberPrefix, fiscalYear, "grn_number")
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	var grnItems []GoodsReceivedNoteDetail
	for _, item := range input.Details {
		grnItems = append(grnItems, GoodsReceivedNoteDetail{
			BrandName:   item.BrandName,
			ModelNo:     item.ModelNo,
			Description: item.Description,
			ReceivedQty: item.ReceivedQty,
		})
	}

	grn := GoodsReceivedNote{
		BusinessId:      businessId,
		GrnNumber:       grnNumber,
		SequenceNo:      decimal.NewFromInt(seqNo),
		FiscalYear:      fiscalYear,
		PurchaseOrderId: input.PurchaseOrderId,
		ReceiptDate:     input.ReceiptDate,
		Notes:           input.Notes,
		Details:         grnItems,
	}

	if err := tx.WithContext(ctx).Create(&grn).Error; err != nil {
		tx.Rollback()
		if utils.IsDuplicateKey(err) {
			// The number passed the pre-check but lost a race at persist.
			// Surfaced as a numbering conflict; the caller gets a fresh number
			// on the next attempt.
			config.LogWarn(config.GetLogger(), "models", "CreateGoodsReceivedNote", "grn number collided at persist", map[string]interface{}{
				"business_id": businessId,
				"grn_number":  grnNumber,
			})
			return nil, nil, &utils.SequenceExhaustedError{
				BusinessId: businessId,
				Prefix:     GrnNumberPrefix,
				FiscalYear: fiscalYear,
				Attempts:   maxNumberAttempts,
			}
		}
		return nil, nil, err
	}

	if err := PublishDocumentEvent(ctx, tx, businessId, grn.ID, DocumentReferenceTypeGrn, DocumentEventActionCreate, grn); err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, nil, err
	}
	return &grn, purchaseOrder, nil
}

func GetGoodsReceivedNote(ctx context.Context, id int) (*GoodsReceivedNote, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var grn GoodsReceivedNote
	err := db.WithContext(ctx).Preload("Details").
		Where("business_id = ? AND id = ?", businessId, id).
		First(&grn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &grn, nil
}

// GetGoodsReceivedNotes lists a tenant's receipts, optionally filtered to one
// purchase order.
func GetGoodsReceivedNotes(ctx context.Context, purchaseOrderId *int) ([]*GoodsReceivedNote, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	dbCtx := db.WithContext(ctx).Preload("Details").Where("business_id = ?", businessId)
	if purchaseOrderId != nil && *purchaseOrderId > 0 {
		if err := utils.ValidateResourceId[PurchaseOrder](ctx, businessId, *purchaseOrderId); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return nil, &utils.OrderNotFoundError{OrderId: *purchaseOrderId}
			}
			return nil, err
		}
		dbCtx = dbCtx.Where("purchase_order_id = ?", *purchaseOrderId)
	}
	var grns []*GoodsReceivedNote
	if err := dbCtx.Order("id ASC").Find(&grns).Error; err != nil {
		return nil, err
	}
	return grns, nil
}
