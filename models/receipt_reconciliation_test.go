package models_test

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/operations_backend/models"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"github.com/shopspring/decimal"
)

func qty(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func twoLineOrder() *models.PurchaseOrder {
	return &models.PurchaseOrder{
		CurrentStatus: models.PurchaseOrderStatusPending,
		Details: []models.PurchaseOrderDetail{
			{BrandName: "Acme", ModelNo: "X-100", OrderedQty: qty("10"), ReceivedQty: decimal.Zero},
			{BrandName: "Acme", ModelNo: "X-200", OrderedQty: qty("5"), ReceivedQty: decimal.Zero},
		},
	}
}

func TestComputeReceiptStatus(t *testing.T) {
	cases := []struct {
		name    string
		details []models.PurchaseOrderDetail
		want    models.PurchaseOrderStatus
	}{
		{
			name:    "no lines",
			details: nil,
			want:    models.PurchaseOrderStatusPending,
		},
		{
			name: "nothing received",
			details: []models.PurchaseOrderDetail{
				{OrderedQty: qty("10"), ReceivedQty: decimal.Zero},
				{OrderedQty: qty("5"), ReceivedQty: decimal.Zero},
			},
			want: models.PurchaseOrderStatusPending,
		},
		{
			name: "one line full, one untouched",
			details: []models.PurchaseOrderDetail{
				{OrderedQty: qty("10"), ReceivedQty: qty("10")},
				{OrderedQty: qty("5"), ReceivedQty: decimal.Zero},
			},
			want: models.PurchaseOrderStatusPartiallyReceived,
		},
		{
			name: "one line partial",
			details: []models.PurchaseOrderDetail{
				{OrderedQty: qty("10"), ReceivedQty: qty("3")},
				{OrderedQty: qty("5"), ReceivedQty: decimal.Zero},
			},
			want: models.PurchaseOrderStatusPartiallyReceived,
		},
		{
			name: "all lines full",
			details: []models.PurchaseOrderDetail{
				{OrderedQty: qty("10"), ReceivedQty: qty("10")},
				{OrderedQty: qty("5"), ReceivedQty: qty("5")},
			},
			want: models.PurchaseOrderStatusReceived,
		},
		{
			name: "fractional quantities full",
			details: []models.PurchaseOrderDetail{
				{OrderedQty: qty("2.5"), ReceivedQty: qty("2.5")},
			},
			want: models.PurchaseOrderStatusReceived,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := models.ComputeReceiptStatus(c.details)
			if got != c.want {
				t.Fatalf("ComputeReceiptStatus = %q, want %q", got, c.want)
			}
			// Recomputing on the same quantities must not change the answer.
			if again := models.ComputeReceiptStatus(c.details); again != got {
				t.Fatalf("ComputeReceiptStatus not stable: %q then %q", got, again)
			}
		})
	}
}

func TestApplyReceiptDeltasUpdatesLinesAndStatus(t *testing.T) {
	po := twoLineOrder()

	applied, skipped, err := po.ApplyReceiptDeltas([]models.ReceiptLineDelta{
		{BrandName: "Acme", ModelNo: "X-100", Quantity: qty("10")},
		{BrandName: "Acme", ModelNo: "X-200", Quantity: qty("3")},
	})
	if err != nil {
		t.Fatalf("ApplyReceiptDeltas: %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("expected no skipped deltas, got %d", len(skipped))
	}
	if len(applied) != 2 {
		t.Fatalf("expected 2 applied lines, got %d", len(applied))
	}
	if !po.Details[0].ReceivedQty.Equal(qty("10")) {
		t.Errorf("X-100 received = %s, want 10", po.Details[0].ReceivedQty)
	}
	if !po.Details[1].ReceivedQty.Equal(qty("3")) {
		t.Errorf("X-200 received = %s, want 3", po.Details[1].ReceivedQty)
	}
	if po.CurrentStatus != models.PurchaseOrderStatusPartiallyReceived {
		t.Errorf("status = %q, want %q", po.CurrentStatus, models.PurchaseOrderStatusPartiallyReceived)
	}

	// Finish the second line; the order flips to Received.
	if _, _, err := po.ApplyReceiptDeltas([]models.ReceiptLineDelta{
		{BrandName: "Acme", ModelNo: "X-200", Quantity: qty("2")},
	}); err != nil {
		t.Fatalf("ApplyReceiptDeltas second receipt: %v", err)
	}
	if po.CurrentStatus != models.PurchaseOrderStatusReceived {
		t.Errorf("status = %q, want %q", po.CurrentStatus, models.PurchaseOrderStatusReceived)
	}
}

func TestApplyReceiptDeltasOverReceiptLeavesOrderUntouched(t *testing.T) {
	po := twoLineOrder()
	po.Details[0].ReceivedQty = qty("7")
	po.CurrentStatus = models.PurchaseOrderStatusPartiallyReceived

	_, _, err := po.ApplyReceiptDeltas([]models.ReceiptLineDelta{
		{BrandName: "Acme", ModelNo: "X-200", Quantity: qty("2")},
		{BrandName: "Acme", ModelNo: "X-100", Quantity: qty("5")}, // 7 + 5 > 10
	})
	var overReceipt *utils.OverReceiptError
	if !errors.As(err, &overReceipt) {
		t.Fatalf("expected OverReceiptError, got %v", err)
	}
	if !overReceipt.Ordered.Equal(qty("10")) || !overReceipt.AttemptedTotal.Equal(qty("12")) {
		t.Errorf("OverReceiptError quantities = ordered %s attempted %s, want 10 and 12",
			overReceipt.Ordered, overReceipt.AttemptedTotal)
	}

	// All-or-nothing: the passing X-200 delta in the same batch must not land.
	if !po.Details[0].ReceivedQty.Equal(qty("7")) {
		t.Errorf("X-100 received changed to %s after rejected receipt", po.Details[0].ReceivedQty)
	}
	if !po.Details[1].ReceivedQty.Equal(decimal.Zero) {
		t.Errorf("X-200 received changed to %s after rejected receipt", po.Details[1].ReceivedQty)
	}
	if po.CurrentStatus != models.PurchaseOrderStatusPartiallyReceived {
		t.Errorf("status changed to %q after rejected receipt", po.CurrentStatus)
	}
}

func TestApplyReceiptDeltasAccumulatesRepeatedLineKeys(t *testing.T) {
	po := twoLineOrder()

	// Two deltas addressing the same line in one receipt: 6 + 5 > 10 must fail
	// even though each delta alone fits.
	_, _, err := po.ApplyReceiptDeltas([]models.ReceiptLineDelta{
		{BrandName: "Acme", ModelNo: "X-100", Quantity: qty("6")},
		{BrandName: "Acme", ModelNo: "X-100", Quantity: qty("5")},
	})
	var overReceipt *utils.OverReceiptError
	if !errors.As(err, &overReceipt) {
		t.Fatalf("expected OverReceiptError for accumulated deltas, got %v", err)
	}
	if !po.Details[0].ReceivedQty.Equal(decimal.Zero) {
		t.Errorf("X-100 received changed to %s after rejected receipt", po.Details[0].ReceivedQty)
	}
}

func TestApplyReceiptDeltasSkipsUnmatchedLines(t *testing.T) {
	po := twoLineOrder()

	applied, skipped, err := po.ApplyReceiptDeltas([]models.ReceiptLineDelta{
		{BrandName: "Acme", ModelNo: "X-100", Quantity: qty("4")},
		{BrandName: "Other", ModelNo: "Z-999", Quantity: qty("2")},
	})
	if err != nil {
		t.Fatalf("ApplyReceiptDeltas: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("expected 1 applied line, got %d", len(applied))
	}
	if len(skipped) != 1 || skipped[0].ModelNo != "Z-999" {
		t.Fatalf("expected the Z-999 delta to be skipped, got %+v", skipped)
	}
	if !po.Details[0].ReceivedQty.Equal(qty("4")) {
		t.Errorf("X-100 received = %s, want 4", po.Details[0].ReceivedQty)
	}
}

func TestApplyReceiptDeltasRejectsNonPositiveQty(t *testing.T) {
	po := twoLineOrder()
	if _, _, err := po.ApplyReceiptDeltas([]models.ReceiptLineDelta{
		{BrandName: "Acme", ModelNo: "X-100", Quantity: decimal.Zero},
	}); err == nil {
		t.Fatal("expected error for zero-quantity delta")
	}
	if _, _, err := po.ApplyReceiptDeltas([]models.ReceiptLineDelta{
		{BrandName: "Acme", ModelNo: "X-100", Quantity: qty("-1")},
	}); err == nil {
		t.Fatal("expected error for negative-quantity delta")
	}
}

func TestFormatDocumentNumber(t *testing.T) {
	cases := []struct {
		prefix     string
		fiscalYear string
		seqNo      int64
		want       string
	}{
		{"GRN", "2024-25", 7, "GRN/2024-25/007"},
		{"GRN", "2024-25", 1, "GRN/2024-25/001"},
		{"PO", "2023-24", 42, "PO/2023-24/042"},
		// Padding widens, never truncates.
		{"GRN", "2024-25", 1234, "GRN/2024-25/1234"},
	}
	for _, c := range cases {
		got := models.FormatDocumentNumber(c.prefix, c.fiscalYear, c.seqNo)
		if got != c.want {
			t.Errorf("FormatDocumentNumber(%q, %q, %d) = %q, want %q", c.prefix, c.fiscalYear, c.seqNo, got, c.want)
		}
	}
}
