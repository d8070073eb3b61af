package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"ridehail/internal/domain"
	"ridehail/internal/repository"
)

const rideColumns = `id, passenger_id, driver_id, status, price, created_at, updated_at, cancelled_at, cancel_reason`

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
type RideRepository struct {
	q Querier
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{q: db}
}

var _ repository.RideRepository = (*RideRepository)(nil)

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	query := `
		INSERT INTO rides (` + rideColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.q.ExecContext(ctx, query,
		ride.ID,
		ride.PassengerID,
		nullString(ride.DriverID),
		ride.Status,
		ride.Price,
		ride.CreatedAt,
		ride.UpdatedAt,
		nullTime(ride.CancelledAt),
		nullString(ride.CancelReason),
	)
	if err != nil {
		return wrapErr("create ride", err)
	}
	return nil
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`

	ride, err := scanRide(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, wrapErr("get ride", err)
	}
	return ride, nil
}

// FindByStatus returns the rides in any of the given statuses, oldest first.
func (r *RideRepository) FindByStatus(ctx context.Context, statuses []domain.RideStatus) ([]*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE status = ANY($1) ORDER BY created_at ASC, id ASC`
	return r.list(ctx, "find rides by status", query, pq.Array(statusStrings(statuses)))
}

// FindByDriver returns the rides held by driverID in any of the given statuses.
func (r *RideRepository) FindByDriver(ctx context.Context, driverID string, statuses []domain.RideStatus) ([]*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE driver_id = $1 AND status = ANY($2) ORDER BY created_at ASC, id ASC`
	return r.list(ctx, "find rides by driver", query, driverID, pq.Array(statusStrings(statuses)))
}

// CompareAndSetStatus applies update only while the row still has the
// expected status, so concurrent writers cannot both succeed.
func (r *RideRepository) CompareAndSetStatus(ctx context.Context, id string, expected domain.RideStatus, update domain.StatusUpdate) (bool, error) {
	query := `
		UPDATE rides SET status = $3,
			driver_id = CASE WHEN $4 THEN NULL ELSE COALESCE($5, driver_id) END,
			price = COALESCE($6, price),
			updated_at = $7,
			cancelled_at = COALESCE($8, cancelled_at),
			cancel_reason = COALESCE($9, cancel_reason)
		WHERE id = $1 AND status = $2
	`

	var price sql.NullFloat64
	if update.Price != nil {
		price = sql.NullFloat64{Float64: *update.Price, Valid: true}
	}

	result, err := r.q.ExecContext(ctx, query,
		id,
		expected,
		update.Status,
		update.ClearDriver,
		nullString(update.DriverID),
		price,
		update.UpdatedAt,
		nullTime(update.CancelledAt),
		nullString(update.CancelReason),
	)
	if err != nil {
		return false, wrapErr("compare and set ride status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, wrapErr("compare and set ride status", err)
	}
	return rowsAffected == 1, nil
}

// BulkSetStatus moves every ride in statuses to newStatus in one statement.
func (r *RideRepository) BulkSetStatus(ctx context.Context, statuses []domain.RideStatus, newStatus domain.RideStatus, reason string, at time.Time) (int64, error) {
	query := `
		UPDATE rides SET status = $2, driver_id = NULL, updated_at = $3, cancelled_at = $3, cancel_reason = $4
		WHERE status = ANY($1)
	`

	result, err := r.q.ExecContext(ctx, query, pq.Array(statusStrings(statuses)), newStatus, at, reason)
	if err != nil {
		return 0, wrapErr("bulk set ride status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, wrapErr("bulk set ride status", err)
	}
	return rowsAffected, nil
}

func (r *RideRepository) list(ctx context.Context, op, query string, args ...any) ([]*domain.Ride, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		rides = append(rides, ride)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return rides, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*domain.Ride, error) {
	var ride domain.Ride
	var driverID sql.NullString
	var cancelledAt sql.NullTime
	var cancelReason sql.NullString

	if err := row.Scan(
		&ride.ID,
		&ride.PassengerID,
		&driverID,
		&ride.Status,
		&ride.Price,
		&ride.CreatedAt,
		&ride.UpdatedAt,
		&cancelledAt,
		&cancelReason,
	); err != nil {
		return nil, err
	}

	if driverID.Valid {
		ride.DriverID = driverID.String
	}
	if cancelledAt.Valid {
		ride.CancelledAt = cancelledAt.Time
	}
	if cancelReason.Valid {
		ride.CancelReason = cancelReason.String
	}
	return &ride, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func statusStrings(statuses []domain.RideStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
