package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/koinonia/backend/internal/services"
)

type PublicHandler struct {
	eventService *services.EventService
}

func NewPublicHandler(eventService *services.EventService) *PublicHandler {
	return &PublicHandler{eventService: eventService}
}

// ListEvents returns upcoming visible event occurrences
func (h *PublicHandler) ListEvents(c *gin.Context) {
	views, err := h.eventService.ListUpcomingVisible()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": views})
}

// GetEvent returns one occurrence's effective view
func (h *PublicHandler) GetEvent(c *gin.Context) {
	instanceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	_, inst, eff, err := h.eventService.GetEffectiveInstance(instanceID)
	if err != nil || eff.Hidden {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"instance_id":   inst.ID,
		"event_id":      inst.EventID,
		"series_index":  inst.SeriesIndex,
		"event":         eff,
		"seats_filled":  inst.SeatsFilled,
	})
}

// Health is the liveness probe
func (h *PublicHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
