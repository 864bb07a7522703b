package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/koinonia/backend/internal/models"
	"github.com/koinonia/backend/internal/services"
)

type RegistrationHandler struct {
	eventService        *services.EventService
	registrationService *services.RegistrationService
	paymentService      *services.PaymentService
	ledgerService       *services.LedgerService
	qrService           *services.QRService
}

func NewRegistrationHandler(eventService *services.EventService, registrationService *services.RegistrationService, paymentService *services.PaymentService, ledgerService *services.LedgerService, qrService *services.QRService) *RegistrationHandler {
	return &RegistrationHandler{
		eventService:        eventService,
		registrationService: registrationService,
		paymentService:      paymentService,
		ledgerService:       ledgerService,
		qrService:           qrService,
	}
}

func callerUser(c *gin.Context) *models.User {
	u, _ := c.Get("user")
	user, _ := u.(*models.User)
	return user
}

func (h *RegistrationHandler) loadInstance(c *gin.Context) (*models.EventInstance, *models.EventBlueprint, bool) {
	instanceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return nil, nil, false
	}
	_, inst, eff, err := h.eventService.GetEffectiveInstance(instanceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return nil, nil, false
	}
	return inst, eff, true
}

// ChangeRegistration is the registration entrypoint. Additions paid by paypal
// go through checkout; everything else is a direct write.
func (h *RegistrationHandler) ChangeRegistration(c *gin.Context) {
	user := callerUser(c)
	inst, eff, ok := h.loadInstance(c)
	if !ok {
		return
	}

	var req services.ChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.IsNoop() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "msg": "nothing to change"})
		return
	}

	hasAdditions := len(req.Additions()) > 0
	if hasAdditions && req.PaymentType == models.PaymentPayPal {
		checkout, err := h.paymentService.CreateOrder(eff, inst, user, &req)
		if err != nil {
			writeRegistrationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"order_id":    checkout.OrderID,
			"approve_url": checkout.ApproveURL,
		})
		return
	}

	res, err := h.registrationService.ApplyDirectChange(eff, inst, user, &req, false)
	if err != nil {
		writeRegistrationError(c, err)
		return
	}
	writeRegistrationResult(c, res)
}

// CaptureRegistration completes a paypal checkout after payer approval
func (h *RegistrationHandler) CaptureRegistration(c *gin.Context) {
	user := callerUser(c)
	inst, eff, ok := h.loadInstance(c)
	if !ok {
		return
	}

	var req struct {
		OrderID string                 `json:"order_id" binding:"required"`
		Change  services.ChangeRequest `json:"change"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.paymentService.CaptureOrder(eff, inst, user, req.OrderID, &req.Change)
	if err != nil {
		writeRegistrationError(c, err)
		return
	}
	writeRegistrationResult(c, res)
}

// GetRegistration returns the caller's registration on an instance
func (h *RegistrationHandler) GetRegistration(c *gin.Context) {
	user := callerUser(c)
	inst, _, ok := h.loadInstance(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"instance_id":          inst.ID,
		"seats_filled":         inst.SeatsFilled,
		"registration_details": inst.RegistrationFor(user.ID.String()),
	})
}

// ListMyRegistrations returns every instance the caller holds a seat on
func (h *RegistrationHandler) ListMyRegistrations(c *gin.Context) {
	user := callerUser(c)
	instances, err := h.registrationService.ListUserInstances(user.ID.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load registrations"})
		return
	}

	out := make([]gin.H, 0, len(instances))
	for i := range instances {
		inst := &instances[i]
		out = append(out, gin.H{
			"instance_id":          inst.ID,
			"event_id":             inst.EventID,
			"scheduled_date":       inst.ScheduledDate,
			"registration_details": inst.RegistrationFor(user.ID.String()),
		})
	}
	c.JSON(http.StatusOK, gin.H{"registrations": out})
}

// ListMyTransactions returns the caller's payment history across all events
func (h *RegistrationHandler) ListMyTransactions(c *gin.Context) {
	user := callerUser(c)
	txns, err := h.ledgerService.ListByPayer(user.ID.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load transactions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

// GetCheckinQR returns the caller's check-in code for an instance
func (h *RegistrationHandler) GetCheckinQR(c *gin.Context) {
	user := callerUser(c)
	inst, eff, ok := h.loadInstance(c)
	if !ok {
		return
	}
	if inst.RegistrationFor(user.ID.String()).IsEmpty() {
		c.JSON(http.StatusNotFound, gin.H{"error": "not registered for this event"})
		return
	}

	if c.Query("format") == "pdf" {
		pdf, err := h.qrService.GenerateCheckinQRPDF(user.ID.String(), inst, eff)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate qr"})
			return
		}
		c.Header("Content-Disposition", "attachment; filename=checkin.pdf")
		c.Data(http.StatusOK, "application/pdf", pdf)
		return
	}

	png, err := h.qrService.GenerateCheckinQR(user.ID.String(), inst)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate qr"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func writeRegistrationResult(c *gin.Context, res *services.RegistrationResult) {
	if res.Success {
		c.JSON(http.StatusOK, res)
		return
	}
	status := http.StatusConflict
	if res.Reason == services.ReasonNotFound {
		status = http.StatusNotFound
	}
	c.JSON(status, res)
}

func writeRegistrationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrCapacityExceeded):
		c.JSON(http.StatusConflict, gin.H{"success": false, "msg": err.Error()})
	case errors.Is(err, services.ErrAlreadyRegistered), errors.Is(err, services.ErrNotRegistered):
		c.JSON(http.StatusConflict, gin.H{"success": false, "msg": err.Error()})
	case errors.Is(err, services.ErrRegistrationClosed), errors.Is(err, services.ErrEventPassed),
		errors.Is(err, services.ErrRefundDeadlinePassed):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "msg": err.Error()})
	case errors.Is(err, services.ErrProviderUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "msg": "payment provider unavailable, please retry"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "msg": err.Error()})
	}
}
