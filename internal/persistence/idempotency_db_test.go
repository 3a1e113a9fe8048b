package persistence_test

import (
	"CoverPool/internal/persistence"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

var errSyntax = errors.New("syntax error")

func TestPostgresIdempotencyChecker_IsDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	checker := persistence.NewPostgresIdempotencyChecker(db)

	mock.ExpectQuery(`SELECT 1 FROM event_log\.events WHERE command_type = \$1 AND idempotency_key = \$2`).
		WithArgs("Deposit", "known").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`FROM event_log\.events`).
		WithArgs("Deposit", "fresh").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectQuery(`FROM event_log\.events`).
		WithArgs("Buy", "broken").
		WillReturnError(errSyntax)

	if dup, err := checker.IsDuplicate("Deposit", "known"); err != nil || !dup {
		t.Errorf("known key: got (%v, %v), want (true, nil)", dup, err)
	}
	if dup, err := checker.IsDuplicate("Deposit", "fresh"); err != nil || dup {
		t.Errorf("fresh key: got (%v, %v), want (false, nil)", dup, err)
	}
	if _, err := checker.IsDuplicate("Buy", "broken"); !errors.Is(err, errSyntax) {
		t.Errorf("query error: got %v, want %v", err, errSyntax)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
