package utils

import (
	"context"
	"strings"
	"sync"

	"bitbucket.org/mmdatafocus/operations_backend/config"
)

var seqMutex sync.Mutex

// GetDocumentSequence allocates the next sequence number for one numbering
// scope (tenant + fiscal year + document prefix). Allocation is a single Redis
// INCR, never a read-then-write. A counter seen for the first time (or lost to
// a Redis flush) is seeded from max(sequence_no) of the persisted series for
// that scope in the same critical section, so the counter can never silently
// fall behind the documents it numbers.
//
// T is the numbered document model; its table must carry business_id,
// fiscal_year and sequence_no columns. Callers must still verify the formatted
// number is unused before persisting (see models.GenerateDocumentNumber).
func GetDocumentSequence[T any](ctx context.Context, businessId string, fiscalYear string, prefix string) (int64, error) {
	seqMutex.Lock()
	defer seqMutex.Unlock()

	cacheKey := sequenceCacheKey(businessId, fiscalYear, prefix)
	seqNo, err := config.IncrRedisCounter(ctx, cacheKey)
	if err != nil {
		return 0, &RetryableError{Op: "allocate document sequence", Err: err}
	}
	// seqNo <= 1: the INCR created the counter just now (or Redis is absent
	// and returned zero). Seed from the persisted series for this scope.
	if seqNo <= 1 {
		dbSeq, err := maxPersistedSequence[T](ctx, businessId, fiscalYear)
		if err != nil {
			return 0, err
		}
		if dbSeq >= seqNo {
			seqNo = dbSeq + 1
			if err := config.SetRedisCounter(ctx, cacheKey, seqNo); err != nil {
				return 0, &RetryableError{Op: "seed document sequence", Err: err}
			}
		}
	}
	return seqNo, nil
}

// ResetDocumentSequence forces the counter back to the max persisted sequence
// for the scope and returns that value. Recovery path only, invoked when the
// counter mechanism errs; the next allocation then continues the series.
func ResetDocumentSequence[T any](ctx context.Context, businessId string, fiscalYear string, prefix string) (int64, error) {
	seqMutex.Lock()
	defer seqMutex.Unlock()

	dbSeq, err := maxPersistedSequence[T](ctx, businessId, fiscalYear)
	if err != nil {
		return 0, err
	}
	cacheKey := sequenceCacheKey(businessId, fiscalYear, prefix)
	if err := config.SetRedisCounter(ctx, cacheKey, dbSeq); err != nil {
		return 0, &RetryableError{Op: "reset document sequence", Err: err}
	}
	return dbSeq, nil
}

func maxPersistedSequence[T any](ctx context.Context, businessId string, fiscalYear string) (int64, error) {
	var model T
	var dbSeq *int64
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&model).Select("max(sequence_no)").
		Where("business_id = ? AND fiscal_year = ?", businessId, fiscalYear).
		Scan(&dbSeq).Error; err != nil {
		return 0, err
	}
	// scope has no documents yet
	if dbSeq == nil {
		return 0, nil
	}
	return *dbSeq, nil
}

func sequenceCacheKey(businessId string, fiscalYear string, prefix string) string {
	return businessId + "-" + strings.ToLower(prefix) + "-" + fiscalYear + "_seq"
}
