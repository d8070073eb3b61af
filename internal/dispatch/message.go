package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"ridehail/internal/domain"
	"ridehail/internal/service"
)

// ErrMalformedMessage is returned for inbound frames that cannot be parsed,
// name an unknown action, or fail validation.
var ErrMalformedMessage = errors.New("malformed message")

// Inbound actions.
const (
	ActionAcceptRide       = "driver:acceptRide"
	ActionCollectPassenger = "driver:collectPassenger"
	ActionStartRide        = "driver:startRide"
	ActionCompleteRide     = "driver:completeRide"
	ActionCancelRide       = "ride:cancel"
	ActionPing             = "ping"
)

var actionStatus = map[string]domain.RideStatus{
	ActionAcceptRide:       domain.RideStatusAccepted,
	ActionCollectPassenger: domain.RideStatusCollecting,
	ActionStartRide:        domain.RideStatusInProgress,
	ActionCompleteRide:     domain.RideStatusCompleted,
	ActionCancelRide:       domain.RideStatusCancelled,
}

// Message is an inbound client frame.
type Message struct {
	Action string   `json:"action" validate:"required,oneof=driver:acceptRide driver:collectPassenger driver:startRide driver:completeRide ride:cancel ping"`
	RideID string   `json:"rideId" validate:"required_unless=Action ping,max=128"`
	Price  *float64 `json:"price,omitempty" validate:"omitempty,gte=0"`
}

// TargetStatus returns the ride status the action asks for.
func (m Message) TargetStatus() (domain.RideStatus, bool) {
	status, ok := actionStatus[m.Action]
	return status, ok
}

var validate = validator.New()

// ParseMessage decodes and validates one inbound frame.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := validate.Struct(msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}

type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type rideEventFrame struct {
	Event string           `json:"event"`
	Ride  service.RideView `json:"ride"`
}

type errorFrame struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
	Action string `json:"action,omitempty"`
	RideID string `json:"rideId,omitempty"`
}

type statusFrame struct {
	Event  string `json:"event"`
	UserID string `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
}

func newErrorFrame(reason string, msg Message) errorFrame {
	return errorFrame{Event: "error", Reason: reason, Action: msg.Action, RideID: msg.RideID}
}
