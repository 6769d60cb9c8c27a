package utils

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

var ErrorRecordNotFound = errors.New("record not found")

// OverReceiptError rejects a receipt whose cumulative received quantity would
// exceed the ordered quantity on a purchase order line. The whole receipt is
// rejected; no line in the same batch is applied.
type OverReceiptError struct {
	BrandName      string
	ModelNo        string
	Ordered        decimal.Decimal
	AttemptedTotal decimal.Decimal
}

func (e *OverReceiptError) Error() string {
	return fmt.Sprintf("received qty for %s/%s would exceed ordered qty (ordered %s, attempted total %s)",
		e.BrandName, e.ModelNo, e.Ordered.String(), e.AttemptedTotal.String())
}

type OrderNotFoundError struct {
	OrderId int
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("purchase order %d not found", e.OrderId)
}

// SequenceExhaustedError means document-number generation hit the collision
// retry bound. Non-retryable; sustained occurrences indicate counter
// corruption or pathological contention and need operator attention.
type SequenceExhaustedError struct {
	BusinessId string
	Prefix     string
	FiscalYear string
	Attempts   int
}

func (e *SequenceExhaustedError) Error() string {
	return fmt.Sprintf("document number generation exhausted after %d attempts for prefix %s/%s (business %s)",
		e.Attempts, e.Prefix, e.FiscalYear, e.BusinessId)
}

// RetryableError wraps infrastructure failures (counter store, mid-transaction
// aborts) where the caller may retry with the same inputs; the surrounding
// transaction guarantees no partial commit happened.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsDuplicateKey reports whether err is MySQL's duplicate-entry error (1062).
// Store-specific duplicate signals are translated here exactly once; callers
// must never match on message text.
func IsDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}
