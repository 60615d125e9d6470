package health

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestDBChecker_HealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	checker := NewDBChecker(db)

	if err := checker.HealthCheck(context.Background()); err != nil {
		t.Errorf("expected healthy database, got %v", err)
	}
	if err := checker.HealthCheck(context.Background()); err == nil {
		t.Error("expected ping failure to be reported")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
