package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"ridehail/internal/domain"
	"ridehail/internal/repository"
)

var rideRowColumns = []string{"id", "passenger_id", "driver_id", "status", "price", "created_at", "updated_at", "cancelled_at", "cancel_reason"}

func newMockRepo(t *testing.T) (*RideRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRideRepository(db), mock
}

func TestRideRepository_GetByID(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM rides WHERE id = ").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(rideRowColumns).
			AddRow("r1", "p1", "d1", "accepted", 12.5, created, created, nil, nil))

	ride, err := repo.GetByID(context.Background(), "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ride.Status != domain.RideStatusAccepted || ride.DriverID != "d1" || ride.Price != 12.5 {
		t.Errorf("unexpected ride: %+v", ride)
	}
	if !ride.CancelledAt.IsZero() || ride.CancelReason != "" {
		t.Errorf("expected no cancellation fields, got %+v", ride)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRideRepository_GetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM rides WHERE id = ").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(rideRowColumns))

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRideRepository_GetByIDStoreUnavailable(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM rides WHERE id = ").
		WithArgs("r1").
		WillReturnError(errors.New("connection reset by peer"))

	_, err := repo.GetByID(context.Background(), "r1")
	if !errors.Is(err, repository.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRideRepository_CreateIntegrityViolation(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO rides").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	err := repo.Create(context.Background(), &domain.Ride{ID: "r1", PassengerID: "p1", Status: domain.RideStatusPending})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, repository.ErrStoreUnavailable) {
		t.Errorf("integrity violation must not be reported as unavailable: %v", err)
	}
}

func TestRideRepository_CompareAndSetStatus(t *testing.T) {
	testCases := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"applied", 1, true},
		{"lost race", 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			now := time.Now()

			mock.ExpectExec("UPDATE rides SET status = (.+) WHERE id = (.+) AND status = ").
				WithArgs("r1", domain.RideStatusPending, domain.RideStatusAccepted, false, "d1",
					sqlmock.AnyArg(), now, sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			ok, err := repo.CompareAndSetStatus(context.Background(), "r1", domain.RideStatusPending, domain.StatusUpdate{
				Status:    domain.RideStatusAccepted,
				DriverID:  "d1",
				UpdatedAt: now,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tc.want {
				t.Errorf("expected applied=%v, got %v", tc.want, ok)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestRideRepository_FindByStatus(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM rides WHERE status = ANY").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(rideRowColumns).
			AddRow("r1", "p1", nil, "pending", 10.0, created, created, nil, nil).
			AddRow("r2", "p2", "d2", "in_progress", 20.0, created.Add(time.Minute), created, nil, nil))

	rides, err := repo.FindByStatus(context.Background(), domain.NonTerminalStatuses())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rides) != 2 {
		t.Fatalf("expected 2 rides, got %d", len(rides))
	}
	if rides[0].DriverID != "" || rides[1].DriverID != "d2" {
		t.Errorf("unexpected driver ids: %q, %q", rides[0].DriverID, rides[1].DriverID)
	}
}

func TestRideRepository_BulkSetStatus(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE rides SET status = (.+) driver_id = NULL").
		WithArgs(sqlmock.AnyArg(), domain.RideStatusCancelled, at, "maintenance sweep").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.BulkSetStatus(context.Background(), domain.NonTerminalStatuses(), domain.RideStatusCancelled, "maintenance sweep", at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 modified, got %d", n)
	}
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS rides").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
