package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestIsDuplicateKey(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'GRN/2024-25/001' for key 'idx_grn_series_number'"}
	if !IsDuplicateKey(dup) {
		t.Fatal("1062 must be detected as duplicate key")
	}
	if !IsDuplicateKey(fmt.Errorf("create goods received note: %w", dup)) {
		t.Fatal("wrapped 1062 must be detected as duplicate key")
	}

	if IsDuplicateKey(&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}) {
		t.Fatal("1205 is not a duplicate key")
	}
	// Detection is by error code only, never by message text.
	if IsDuplicateKey(errors.New("Duplicate entry 'GRN/2024-25/001' for key 'idx_grn_series_number'")) {
		t.Fatal("message text alone must not be treated as duplicate key")
	}
	if IsDuplicateKey(nil) {
		t.Fatal("nil is not a duplicate key")
	}
}
