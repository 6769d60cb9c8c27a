package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
)

// maxNumberAttempts bounds collision retries. A collision means the counter
// and the persisted series disagreed (a prior allocation committed the counter
// but the document persist failed); hitting the bound is surfaced, never
// papered over with a non-unique number.
const maxNumberAttempts = 3

// FormatDocumentNumber renders the canonical number, e.g. GRN/2024-25/007.
func FormatDocumentNumber(prefix string, fiscalYear string, seqNo int64) string {
	return fmt.Sprintf("%s/%s/%03d", prefix, fiscalYear, seqNo)
}

// GenerateDocumentNumber allocates the next number of the prefix's series for
// the fiscal year containing fiscalDate. Standalone entry point for document
// types without receipt reconciliation.
func GenerateDocumentNumber(ctx context.Context, businessId string, prefix string, fiscalDate time.Time) (string, int64, error) {
	fiscalYear := utils.FiscalYearFromDate(fiscalDate)
	switch strings.ToUpper(strings.TrimSpace(prefix)) {
	case GrnNumberPrefix:
		return generateDocumentNumber[GoodsReceivedNote](ctx, businessId, GrnNumberPrefix, fiscalYear, "grn_number")
	case PoNumberPrefix:
		return generateDocumentNumber[PurchaseOrder](ctx, businessId, PoNumberPrefix, fiscalYear, "order_number")
	default:
		return "", 0, fmt.Errorf("unsupported document prefix %q", prefix)
	}
}

// generateDocumentNumber returns a formatted number verified unused within the
// tenant's series at the time of the check. numberColumn is the unique column
// holding the formatted number on T's table.
//
// The counter is the fast path; the persisted series is the truth. On a
// collision the counter is simply advanced again (the series is ahead of it);
// on a counter-store error the series max is rescanned and the counter reset
// before one more try. Both paths are logged: repeated occurrences are an
// operational alarm, not normal flow.
func generateDocumentNumber[T any](ctx context.Context, businessId string, prefix string, fiscalYear string, numberColumn string) (string, int64, error) {
	logger := config.GetLogger()

	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		seqNo, err := utils.GetDocumentSequence[T](ctx, businessId, fiscalYear, prefix)
		if err != nil {
			config.LogWarn(logger, "models", "generateDocumentNumber", "counter allocation failed; resetting from persisted series", map[string]interface{}{
				"business_id": businessId,
				"prefix":      prefix,
				"fiscal_year": fiscalYear,
			})
			if _, resetErr := utils.ResetDocumentSequence[T](ctx, businessId, fiscalYear, prefix); resetErr != nil {
				return "", 0, resetErr
			}
			seqNo, err = utils.GetDocumentSequence[T](ctx, businessId, fiscalYear, prefix)
			if err != nil {
				return "", 0, err
			}
		}

		candidate := FormatDocumentNumber(prefix, fiscalYear, seqNo)
		count, err := utils.ResourceCountWhere[T](ctx, businessId, numberColumn+" = ?", candidate)
		if err != nil {
			return "", 0, &utils.RetryableError{Op: "check document number uniqueness", Err: err}
		}
		if count == 0 {
			return candidate, seqNo, nil
		}

		config.LogWarn(logger, "models", "generateDocumentNumber", "document number collision; re-allocating", map[string]interface{}{
			"business_id": businessId,
			"candidate":   candidate,
			"attempt":     attempt,
		})
	}

	return "", 0, &utils.SequenceExhaustedError{
		BusinessId: businessId,
		Prefix:     prefix,
		FiscalYear: fiscalYear,
		Attempts:   maxNumberAttempts,
	}
}
