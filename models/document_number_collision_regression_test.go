package models_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/models"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"github.com/shopspring/decimal"
)

// Regression: when the counter falls behind the persisted series (another
// instance created documents the counter never saw), allocation must walk past
// the occupied sequences within the retry bound — and when every sequence in
// the bound is occupied, surface SequenceExhaustedError rather than ever
// handing out a persisted number.
func TestGenerateDocumentNumber_CollisionRetryAndExhaustion(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	db := config.GetDB()

	fiscalDate := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)
	fiscalYear := "2024-25"

	seedGrn := func(seq int64) {
		t.Helper()
		grn := models.GoodsReceivedNote{
			BusinessId:  businessId,
			GrnNumber:   models.FormatDocumentNumber("GRN", fiscalYear, seq),
			SequenceNo:  decimal.NewFromInt(seq),
			FiscalYear:  fiscalYear,
			ReceiptDate: fiscalDate,
		}
		if err := db.WithContext(ctx).Create(&grn).Error; err != nil {
			t.Fatalf("seed grn at sequence %d: %v", seq, err)
		}
	}

	// Prime the counter at 1.
	number, seqNo, err := models.GenerateDocumentNumber(ctx, businessId, "GRN", fiscalDate)
	if err != nil {
		t.Fatalf("first allocation: %v", err)
	}
	if number != "GRN/2024-25/001" || seqNo != 1 {
		t.Fatalf("first allocation = %q/%d, want GRN/2024-25/001/1", number, seqNo)
	}

	// Sequences 2 and 3 are taken by documents the counter never counted.
	// Allocation must collide twice and succeed at 4 within the retry bound.
	seedGrn(2)
	seedGrn(3)
	number, seqNo, err = models.GenerateDocumentNumber(ctx, businessId, "GRN", fiscalDate)
	if err != nil {
		t.Fatalf("allocation past collisions: %v", err)
	}
	if number != "GRN/2024-25/004" || seqNo != 4 {
		t.Fatalf("allocation past collisions = %q/%d, want GRN/2024-25/004/4", number, seqNo)
	}

	// Now every sequence the bounded retry can reach (5, 6, 7) is occupied:
	// allocation must fail closed with SequenceExhaustedError.
	seedGrn(5)
	seedGrn(6)
	seedGrn(7)
	_, _, err = models.GenerateDocumentNumber(ctx, businessId, "GRN", fiscalDate)
	var exhausted *utils.SequenceExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected SequenceExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("exhausted after %d attempts, want 3", exhausted.Attempts)
	}
	if exhausted.Prefix != "GRN" || exhausted.FiscalYear != fiscalYear {
		t.Errorf("exhausted scope = %s/%s, want GRN/%s", exhausted.Prefix, exhausted.FiscalYear, fiscalYear)
	}

	// The unique index is the last line of defense: a direct duplicate insert
	// must come back as MySQL 1062 and be recognized by code, not message text.
	dup := models.GoodsReceivedNote{
		BusinessId:  businessId,
		GrnNumber:   models.FormatDocumentNumber("GRN", fiscalYear, 2),
		SequenceNo:  decimal.NewFromInt(2),
		FiscalYear:  fiscalYear,
		ReceiptDate: fiscalDate,
	}
	err = db.WithContext(ctx).Create(&dup).Error
	if err == nil {
		t.Fatal("duplicate grn number was persisted")
	}
	if !utils.IsDuplicateKey(err) {
		t.Fatalf("duplicate insert not recognized as duplicate key: %v", err)
	}

	// A missing Redis key is a clean cache miss, not an error.
	if _, found, err := config.GetRedisValue(fmt.Sprintf("no-such-key-%s", businessId)); err != nil || found {
		t.Fatalf("missing redis key: found=%v err=%v, want clean miss", found, err)
	}
}
