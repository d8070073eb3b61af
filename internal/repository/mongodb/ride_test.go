package mongodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"ridehail/internal/domain"
	"ridehail/internal/repository"
)

func rideDoc(id, status, driverID string, created time.Time) bson.D {
	doc := bson.D{
		{Key: "_id", Value: id},
		{Key: "passenger_id", Value: "p1"},
		{Key: "status", Value: status},
		{Key: "price", Value: 15.0},
		{Key: "created_at", Value: created},
		{Key: "updated_at", Value: created},
	}
	if driverID != "" {
		doc = append(doc, bson.E{Key: "driver_id", Value: driverID})
	}
	return doc
}

func TestRideRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mt.Run("get by id", func(mt *mtest.T) {
		repo := NewRideRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, rideDoc("r1", "accepted", "d1", created)))

		ride, err := repo.GetByID(context.Background(), "r1")
		if err != nil {
			mt.Fatalf("unexpected error: %v", err)
		}
		if ride.Status != domain.RideStatusAccepted || ride.DriverID != "d1" || ride.Price != 15.0 {
			mt.Errorf("unexpected ride: %+v", ride)
		}
	})

	mt.Run("get by id not found", func(mt *mtest.T) {
		repo := NewRideRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := repo.GetByID(context.Background(), "missing")
		if !errors.Is(err, repository.ErrNotFound) {
			mt.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	mt.Run("find by status", func(mt *mtest.T) {
		repo := NewRideRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			rideDoc("r1", "pending", "", created),
			rideDoc("r2", "collecting", "d2", created.Add(time.Minute)),
		))

		rides, err := repo.FindByStatus(context.Background(), domain.NonTerminalStatuses())
		if err != nil {
			mt.Fatalf("unexpected error: %v", err)
		}
		if len(rides) != 2 || rides[0].ID != "r1" || rides[1].DriverID != "d2" {
			mt.Errorf("unexpected rides: %+v", rides)
		}
	})

	mt.Run("compare and set applied", func(mt *mtest.T) {
		repo := NewRideRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		ok, err := repo.CompareAndSetStatus(context.Background(), "r1", domain.RideStatusPending,
			domain.StatusUpdate{Status: domain.RideStatusAccepted, DriverID: "d1", UpdatedAt: created})
		if err != nil || !ok {
			mt.Errorf("expected applied write, got ok=%v err=%v", ok, err)
		}
	})

	mt.Run("compare and set lost race", func(mt *mtest.T) {
		repo := NewRideRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		ok, err := repo.CompareAndSetStatus(context.Background(), "r1", domain.RideStatusPending,
			domain.StatusUpdate{Status: domain.RideStatusAccepted, DriverID: "d2", UpdatedAt: created})
		if err != nil || ok {
			mt.Errorf("expected rejected write, got ok=%v err=%v", ok, err)
		}
	})

	mt.Run("bulk set status", func(mt *mtest.T) {
		repo := NewRideRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 4},
			bson.E{Key: "nModified", Value: 4},
		))

		n, err := repo.BulkSetStatus(context.Background(), domain.NonTerminalStatuses(), domain.RideStatusCancelled, "maintenance sweep", created)
		if err != nil || n != 4 {
			mt.Errorf("expected 4 modified, got %d (err=%v)", n, err)
		}
	})

	mt.Run("command error is unavailable", func(mt *mtest.T) {
		repo := NewRideRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Name:    "BadValue",
			Message: "boom",
		}))

		_, err := repo.FindByStatus(context.Background(), domain.NonTerminalStatuses())
		if !errors.Is(err, repository.ErrStoreUnavailable) {
			mt.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
	})

	mt.Run("duplicate key is not unavailable", func(mt *mtest.T) {
		repo := NewRideRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		err := repo.Create(context.Background(), &domain.Ride{ID: "r1", PassengerID: "p1", Status: domain.RideStatusPending})
		if err == nil || errors.Is(err, repository.ErrStoreUnavailable) {
			mt.Errorf("expected plain duplicate key error, got %v", err)
		}
	})
}
