package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridehail/internal/service"
)

const codeInvalidRequest = "invalid_request"

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := service.ReasonCode(err)
	status := mapReasonToHTTPStatus(code)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

// respondInvalid sends a 400 for a request that could not be decoded.
func respondInvalid(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: codeInvalidRequest})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapReasonToHTTPStatus maps reason codes to HTTP status codes.
func mapReasonToHTTPStatus(code string) int {
	switch code {
	case service.ReasonNotFound:
		return http.StatusNotFound

	case service.ReasonInvalidTransition,
		service.ReasonAlreadyClaimed,
		service.ReasonDriverBusy:
		return http.StatusConflict

	case service.ReasonUnauthorized:
		return http.StatusForbidden

	case service.ReasonInvalidPrice,
		service.ReasonInvalidStatus,
		service.ReasonMalformedMessage:
		return http.StatusBadRequest

	case service.ReasonStoreUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
