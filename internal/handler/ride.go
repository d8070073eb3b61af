package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridehail/internal/domain"
	"ridehail/internal/middleware"
	"ridehail/internal/service"
)

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	rideService *service.RideService
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rideService *service.RideService) *RideHandler {
	return &RideHandler{rideService: rideService}
}

// CreateRideRequest is the HTTP request body for creating a ride.
type CreateRideRequest struct {
	Price *float64 `json:"price" binding:"required"`
}

// UpdateStatusRequest is the HTTP request body for a status change.
type UpdateStatusRequest struct {
	Status string   `json:"status" binding:"required"`
	Price  *float64 `json:"price,omitempty"`
}

// CreateRide handles POST /v1/rides
func (h *RideHandler) CreateRide(c *gin.Context) {
	actor, _ := middleware.PrincipalFrom(c)

	var req CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	ride, err := h.rideService.CreateRide(c.Request.Context(), actor, service.CreateRideRequest{Price: *req.Price})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, service.NewRideView(*ride))
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	actor, _ := middleware.PrincipalFrom(c)

	ride, err := h.rideService.GetRide(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, service.NewRideView(*ride))
}

// ListRides handles GET /v1/rides?status=pending,accepted
func (h *RideHandler) ListRides(c *gin.Context) {
	actor, _ := middleware.PrincipalFrom(c)

	var statuses []domain.RideStatus
	for _, raw := range c.QueryArray("status") {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, domain.RideStatus(s))
			}
		}
	}

	rides, err := h.rideService.ListRides(c.Request.Context(), actor, statuses)
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]service.RideView, 0, len(rides))
	for _, r := range rides {
		response = append(response, service.NewRideView(*r))
	}
	respondJSON(c, http.StatusOK, response)
}

// UpdateStatus handles POST /v1/rides/:id/status
func (h *RideHandler) UpdateStatus(c *gin.Context) {
	actor, _ := middleware.PrincipalFrom(c)

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	ride, err := h.rideService.Transition(c.Request.Context(), service.TransitionRequest{
		RideID: c.Param("id"),
		Actor:  actor,
		Status: domain.RideStatus(req.Status),
		Price:  req.Price,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, service.NewRideView(*ride))
}
