package service

import (
	"context"

	"go.uber.org/zap"

	"ridehail/internal/domain"
)

// Event names delivered to clients.
const (
	EventRideRequested  = "ride:requested"
	EventRideAccepted   = "driver:rideAccepted"
	EventRideCollecting = "ride:collecting"
	EventRideInProgress = "ride:inProgress"
	EventRideCompleted  = "ride:completed"
	EventRideCancelled  = "ride:cancelled"
)

// EventForStatus returns the event announcing that a ride entered status.
func EventForStatus(status domain.RideStatus) string {
	switch status {
	case domain.RideStatusAccepted:
		return EventRideAccepted
	case domain.RideStatusCollecting:
		return EventRideCollecting
	case domain.RideStatusInProgress:
		return EventRideInProgress
	case domain.RideStatusCompleted:
		return EventRideCompleted
	case domain.RideStatusCancelled:
		return EventRideCancelled
	default:
		return EventRideRequested
	}
}

// RideEvent is a ride change addressed to users or to everyone with a role.
type RideEvent struct {
	Event      string      `json:"event"`
	Ride       RideView    `json:"ride"`
	Recipients []string    `json:"recipients,omitempty"`
	Role       domain.Role `json:"role,omitempty"`
}

// Notifier delivers ride events.
type Notifier interface {
	Notify(ctx context.Context, event RideEvent) error
}

// NotificationService turns confirmed ride changes into events and hands
// them to every configured sink. Sink failures are logged and never
// propagate to the caller.
type NotificationService struct {
	sinks []Notifier
	log   *zap.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(log *zap.Logger, sinks ...Notifier) *NotificationService {
	return &NotificationService{sinks: sinks, log: log}
}

// AddSink registers another delivery target.
func (s *NotificationService) AddSink(sink Notifier) {
	s.sinks = append(s.sinks, sink)
}

// NotifyRideRequested tells every online driver about a new ride.
func (s *NotificationService) NotifyRideRequested(ctx context.Context, ride domain.Ride) {
	s.send(ctx, RideEvent{
		Event: EventRideRequested,
		Ride:  NewRideView(ride),
		Role:  domain.RoleDriver,
	})
}

// NotifyStatusChanged tells the ride's passenger and driver about a change.
// before is the ride as read prior to the write, so a driver removed by a
// cancellation still hears about it.
func (s *NotificationService) NotifyStatusChanged(ctx context.Context, before, after domain.Ride) {
	recipients := []string{after.PassengerID}
	driverID := after.DriverID
	if driverID == "" {
		driverID = before.DriverID
	}
	if driverID != "" && driverID != after.PassengerID {
		recipients = append(recipients, driverID)
	}

	s.send(ctx, RideEvent{
		Event:      EventForStatus(after.Status),
		Ride:       NewRideView(after),
		Recipients: recipients,
	})
}

func (s *NotificationService) send(ctx context.Context, event RideEvent) {
	s.log.Info("ride notification",
		zap.String("event", event.Event),
		zap.String("ride_id", event.Ride.ID),
		zap.Strings("recipients", event.Recipients),
		zap.String("role", string(event.Role)),
	)

	for _, sink := range s.sinks {
		if err := sink.Notify(ctx, event); err != nil {
			s.log.Warn("notification sink failed",
				zap.String("event", event.Event),
				zap.String("ride_id", event.Ride.ID),
				zap.Error(err),
			)
		}
	}
}
