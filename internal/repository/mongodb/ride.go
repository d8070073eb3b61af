package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ridehail/internal/domain"
	"ridehail/internal/repository"
)

// rideDocument is the stored shape of a ride.
type rideDocument struct {
	ID           string    `bson:"_id"`
	PassengerID  string    `bson:"passenger_id"`
	DriverID     string    `bson:"driver_id,omitempty"`
	Status       string    `bson:"status"`
	Price        float64   `bson:"price"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
	CancelledAt  time.Time `bson:"cancelled_at,omitempty"`
	CancelReason string    `bson:"cancel_reason,omitempty"`
}

func toDocument(r *domain.Ride) rideDocument {
	return rideDocument{
		ID:           r.ID,
		PassengerID:  r.PassengerID,
		DriverID:     r.DriverID,
		Status:       string(r.Status),
		Price:        r.Price,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		CancelledAt:  r.CancelledAt,
		CancelReason: r.CancelReason,
	}
}

func (d rideDocument) toDomain() *domain.Ride {
	return &domain.Ride{
		ID:           d.ID,
		PassengerID:  d.PassengerID,
		DriverID:     d.DriverID,
		Status:       domain.RideStatus(d.Status),
		Price:        d.Price,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		CancelledAt:  d.CancelledAt,
		CancelReason: d.CancelReason,
	}
}

// RideRepository is a MongoDB implementation of repository.RideRepository.
type RideRepository struct {
	collection *mongo.Collection
}

// NewRideRepository creates a ride repository backed by the given collection.
func NewRideRepository(collection *mongo.Collection) *RideRepository {
	return &RideRepository{collection: collection}
}

var _ repository.RideRepository = (*RideRepository)(nil)

// EnsureIndexes creates the indexes used by status and driver lookups.
func (r *RideRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "driver_id", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		return wrapErr("ensure ride indexes", err)
	}
	return nil
}

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	if _, err := r.collection.InsertOne(ctx, toDocument(ride)); err != nil {
		return wrapErr("create ride", err)
	}
	return nil
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	var doc rideDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, wrapErr("get ride", err)
	}
	return doc.toDomain(), nil
}

// FindByStatus returns the rides in any of the given statuses, oldest first.
func (r *RideRepository) FindByStatus(ctx context.Context, statuses []domain.RideStatus) ([]*domain.Ride, error) {
	filter := bson.M{"status": bson.M{"$in": statusStrings(statuses)}}
	return r.find(ctx, "find rides by status", filter)
}

// FindByDriver returns the rides held by driverID in any of the given statuses.
func (r *RideRepository) FindByDriver(ctx context.Context, driverID string, statuses []domain.RideStatus) ([]*domain.Ride, error) {
	filter := bson.M{
		"driver_id": driverID,
		"status":    bson.M{"$in": statusStrings(statuses)},
	}
	return r.find(ctx, "find rides by driver", filter)
}

// CompareAndSetStatus applies update only while the document still has the
// expected status.
func (r *RideRepository) CompareAndSetStatus(ctx context.Context, id string, expected domain.RideStatus, update domain.StatusUpdate) (bool, error) {
	set := bson.M{
		"status":     string(update.Status),
		"updated_at": update.UpdatedAt,
	}
	if update.DriverID != "" && !update.ClearDriver {
		set["driver_id"] = update.DriverID
	}
	if update.Price != nil {
		set["price"] = *update.Price
	}
	if !update.CancelledAt.IsZero() {
		set["cancelled_at"] = update.CancelledAt
		set["cancel_reason"] = update.CancelReason
	}

	change := bson.M{"$set": set}
	if update.ClearDriver {
		change["$unset"] = bson.M{"driver_id": ""}
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id, "status": string(expected)}, change)
	if err != nil {
		return false, wrapErr("compare and set ride status", err)
	}
	return result.MatchedCount == 1, nil
}

// BulkSetStatus moves every ride in statuses to newStatus with one UpdateMany.
func (r *RideRepository) BulkSetStatus(ctx context.Context, statuses []domain.RideStatus, newStatus domain.RideStatus, reason string, at time.Time) (int64, error) {
	result, err := r.collection.UpdateMany(ctx,
		bson.M{"status": bson.M{"$in": statusStrings(statuses)}},
		bson.M{
			"$set": bson.M{
				"status":        string(newStatus),
				"updated_at":    at,
				"cancelled_at":  at,
				"cancel_reason": reason,
			},
			"$unset": bson.M{"driver_id": ""},
		},
	)
	if err != nil {
		return 0, wrapErr("bulk set ride status", err)
	}
	return result.ModifiedCount, nil
}

func (r *RideRepository) find(ctx context.Context, op string, filter bson.M) ([]*domain.Ride, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer cursor.Close(ctx)

	var docs []rideDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapErr(op, err)
	}

	rides := make([]*domain.Ride, 0, len(docs))
	for _, d := range docs {
		rides = append(rides, d.toDomain())
	}
	return rides, nil
}

// wrapErr keeps duplicate keys as plain errors and reports everything else
// as the store being unavailable.
func wrapErr(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, repository.ErrStoreUnavailable, err)
}

func statusStrings(statuses []domain.RideStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
