package config

import (
	"os"
	"strings"
)

// OutboxDispatchEnabled controls the background publisher for document event
// records. Default on: even when Pub/Sub settings exist but delivery is
// misconfigured, rows stay claimable and publishing resumes once fixed.
//
// Set via env:
// - OUTBOX_DISPATCH=false
func OutboxDispatchEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OUTBOX_DISPATCH")))
	if v == "false" || v == "0" || v == "no" {
		return false
	}
	return true
}

// AllowUnmatchedReceiptLines keeps the historical behavior of skipping receipt
// lines that reference material outside the linked purchase order. Turning it
// off makes such lines a hard validation failure.
//
// Set via env:
// - ALLOW_UNMATCHED_RECEIPT_LINES=false
func AllowUnmatchedReceiptLines() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ALLOW_UNMATCHED_RECEIPT_LINES")))
	if v == "false" || v == "0" || v == "no" {
		return false
	}
	return true
}
