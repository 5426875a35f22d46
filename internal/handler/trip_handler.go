package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/drivescore-backend-go/internal/middleware"
	"github.com/jengzang/drivescore-backend-go/internal/models"
	"github.com/jengzang/drivescore-backend-go/internal/scoring"
	"github.com/jengzang/drivescore-backend-go/internal/service"
	"github.com/jengzang/drivescore-backend-go/internal/submission"
	"github.com/jengzang/drivescore-backend-go/internal/tracker"
	"github.com/jengzang/drivescore-backend-go/pkg/response"
)

// TripHandler handles HTTP requests for trips
type TripHandler struct {
	service *service.TripService
}

// NewTripHandler creates a new trip handler
func NewTripHandler(service *service.TripService) *TripHandler {
	return &TripHandler{service: service}
}

type samplesRequest struct {
	Samples []models.TripSample `json:"samples" binding:"required"`
}

type stopRequest struct {
	StoppedAt int64 `json:"stopped_at"`
}

type previewRequest struct {
	scoring.Metrics
	Policy string `json:"policy"`
}

// StartTrip handles POST /api/v1/trips
func (h *TripHandler) StartTrip(c *gin.Context) {
	var req service.StartTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	req.DriverID = c.GetString(middleware.DriverIDKey)

	sess, err := h.service.StartTrip(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to start trip", err)
		return
	}
	response.Created(c, sess)
}

// GetSession handles GET /api/v1/trips/:id/live
func (h *TripHandler) GetSession(c *gin.Context) {
	sess, err := h.service.GetSession(c.Request.Context(), c.GetString(middleware.DriverIDKey), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get trip", err)
		return
	}
	response.Success(c, sess)
}

// AddSamples handles POST /api/v1/trips/:id/samples
func (h *TripHandler) AddSamples(c *gin.Context) {
	var req samplesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}

	res, err := h.service.AddSamples(c.Request.Context(), c.GetString(middleware.DriverIDKey), c.Param("id"), req.Samples)
	if err != nil {
		h.fail(c, "Failed to add samples", err)
		return
	}
	response.Success(c, res)
}

// StopTrip handles POST /api/v1/trips/:id/stop
func (h *TripHandler) StopTrip(c *gin.Context) {
	// the body is optional
	var req stopRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "Invalid request body", err)
		return
	}

	res, err := h.service.StopTrip(c.Request.Context(), c.GetString(middleware.DriverIDKey), c.Param("id"), req.StoppedAt)
	if err != nil {
		h.fail(c, "Failed to stop trip", err)
		return
	}
	response.Success(c, res)
}

// CancelTrip handles DELETE /api/v1/trips/:id
func (h *TripHandler) CancelTrip(c *gin.Context) {
	if err := h.service.CancelTrip(c.Request.Context(), c.GetString(middleware.DriverIDKey), c.Param("id")); err != nil {
		h.fail(c, "Failed to cancel trip", err)
		return
	}
	response.Success(c, gin.H{"id": c.Param("id"), "cancelled": true})
}

// GetTrips handles GET /api/v1/trips
func (h *TripHandler) GetTrips(c *gin.Context) {
	var filter models.TripFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters", err)
		return
	}
	filter.DriverID = c.GetString(middleware.DriverIDKey)

	trips, err := h.service.ListTrips(c.Request.Context(), filter)
	if err != nil {
		response.InternalError(c, "Failed to get trips", err)
		return
	}
	response.Success(c, trips)
}

// GetTripByID handles GET /api/v1/trips/:id
func (h *TripHandler) GetTripByID(c *gin.Context) {
	trip, err := h.service.GetTrip(c.Request.Context(), c.GetString(middleware.DriverIDKey), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get trip", err)
		return
	}
	response.Success(c, trip)
}

// GetDriverSummary handles GET /api/v1/drivers/me/summary
func (h *TripHandler) GetDriverSummary(c *gin.Context) {
	summary, err := h.service.DriverSummary(c.Request.Context(), c.GetString(middleware.DriverIDKey))
	if err != nil {
		response.InternalError(c, "Failed to summarize trips", err)
		return
	}
	response.Success(c, summary)
}

// PreviewScore handles POST /api/v1/scores/preview
func (h *TripHandler) PreviewScore(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}

	res, err := h.service.Preview(req.Metrics, req.Policy)
	if err != nil {
		h.fail(c, "Failed to score", err)
		return
	}
	response.Success(c, res)
}

func (h *TripHandler) fail(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, service.ErrLocationPermission):
		response.Error(c, http.StatusPreconditionFailed, "Location permission is required to start tracking", err)
	case errors.Is(err, service.ErrTripNotFound):
		response.Error(c, http.StatusNotFound, "Trip not found", err)
	case errors.Is(err, scoring.ErrUnknownPolicy), errors.Is(err, service.ErrInvalidStopTime):
		response.BadRequest(c, message, err)
	case errors.Is(err, tracker.ErrTripTooShort):
		response.Error(c, http.StatusUnprocessableEntity, "Trip is too short to be scored", err)
	case errors.Is(err, submission.ErrSubmissionFailed):
		response.Error(c, http.StatusBadGateway, "Could not submit trip, it was not saved", err)
	default:
		response.InternalError(c, message, err)
	}
}
