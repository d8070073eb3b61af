package domain

// rideFlow is the forward order of a ride. Cancellation is handled separately
// because it is reachable from every non-terminal status.
var rideFlow = []RideStatus{
	RideStatusPending,
	RideStatusAccepted,
	RideStatusCollecting,
	RideStatusInProgress,
	RideStatusCompleted,
}

var statusRank = func() map[RideStatus]int {
	m := make(map[RideStatus]int, len(rideFlow)+1)
	for i, s := range rideFlow {
		m[s] = i
	}
	m[RideStatusCancelled] = len(rideFlow)
	return m
}()

// ValidStatus reports whether s is a known ride status.
func ValidStatus(s RideStatus) bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether a ride in status s can no longer change.
func IsTerminal(s RideStatus) bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// NonTerminalStatuses returns every status a ride can still leave.
func NonTerminalStatuses() []RideStatus {
	out := make([]RideStatus, 0, len(rideFlow))
	for _, s := range rideFlow {
		if !IsTerminal(s) {
			out = append(out, s)
		}
	}
	return out
}

// Rank orders statuses along the lifecycle. Cancelled ranks last so that a
// cancellation is never shadowed by an earlier state. Unknown statuses rank -1.
func Rank(s RideStatus) int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// CanTransition reports whether the lifecycle has an edge from -> to.
func CanTransition(from, to RideStatus) bool {
	if IsTerminal(from) || !ValidStatus(to) {
		return false
	}
	if to == RideStatusCancelled {
		return true
	}
	return Rank(to) == Rank(from)+1
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s RideStatus) []RideStatus {
	if IsTerminal(s) || !ValidStatus(s) {
		return nil
	}
	return []RideStatus{rideFlow[Rank(s)+1], RideStatusCancelled}
}

// MayMove reports whether actor is allowed to move ride into status to.
// Ownership is checked against the ride as persisted.
func MayMove(ride Ride, actor Principal, to RideStatus) bool {
	switch to {
	case RideStatusAccepted:
		return actor.Role == RoleDriver
	case RideStatusCollecting, RideStatusInProgress, RideStatusCompleted:
		return actor.Role == RoleDriver && ride.DriverID != "" && ride.DriverID == actor.ID
	case RideStatusCancelled:
		if actor.Role == RoleAdmin {
			return true
		}
		return actor.Role == RolePassenger && ride.PassengerID == actor.ID
	}
	return false
}

// MayView reports whether actor can read the ride.
func MayView(ride Ride, actor Principal) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RolePassenger:
		return ride.PassengerID == actor.ID
	case RoleDriver:
		return ride.DriverID == actor.ID || ride.Status == RideStatusPending
	}
	return false
}
