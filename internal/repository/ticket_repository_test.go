package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestIsDuplicateEntry(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'FT1' for key 'uq_tickets_uid'"}

	if !isDuplicateEntry(dup) {
		t.Fatalf("expected 1062 to be a duplicate entry")
	}
	if !isDuplicateEntry(fmt.Errorf("insert ticket: %w", dup)) {
		t.Fatalf("expected wrapped 1062 to be a duplicate entry")
	}
	if isDuplicateEntry(&mysql.MySQLError{Number: 1452, Message: "foreign key"}) {
		t.Fatalf("1452 is not a duplicate entry")
	}
	if isDuplicateEntry(errors.New("Duplicate entry")) {
		t.Fatalf("untyped errors are not classified here")
	}
	if isDuplicateEntry(nil) {
		t.Fatalf("nil is not a duplicate entry")
	}
}
