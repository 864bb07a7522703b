package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/koinonia/backend/internal/models"
	"github.com/koinonia/backend/internal/services"
)

type AdminHandler struct {
	eventService        *services.EventService
	registrationService *services.RegistrationService
	ledgerService       *services.LedgerService
	refundService       *services.RefundService
	discountService     *services.DiscountService
	userService         *services.UserService
	exportService       *services.ExportService
	auditService        *services.AuditService
}

func NewAdminHandler(eventService *services.EventService, registrationService *services.RegistrationService, ledgerService *services.LedgerService, refundService *services.RefundService, discountService *services.DiscountService, userService *services.UserService, exportService *services.ExportService, auditService *services.AuditService) *AdminHandler {
	return &AdminHandler{
		eventService:        eventService,
		registrationService: registrationService,
		ledgerService:       ledgerService,
		refundService:       refundService,
		discountService:     discountService,
		userService:         userService,
		exportService:       exportService,
		auditService:        auditService,
	}
}

func adminUID(c *gin.Context) string {
	userID, _ := c.Get("userID")
	id, _ := userID.(uuid.UUID)
	return id.String()
}

// --- Events ---

// ListEvents returns every blueprint
func (h *AdminHandler) ListEvents(c *gin.Context) {
	events, err := h.eventService.ListBlueprints()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// GetEvent returns one blueprint with its instances
func (h *AdminHandler) GetEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	bp, err := h.eventService.GetBlueprint(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	instances, err := h.eventService.ListInstances(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load instances"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": bp, "instances": instances})
}

// CreateEvent creates a blueprint and publishes its first instances
func (h *AdminHandler) CreateEvent(c *gin.Context) {
	var bp models.EventBlueprint
	if err := c.ShouldBindJSON(&bp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.eventService.CreateBlueprint(&bp, adminUID(c)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": bp})
}

// UpdateEvent applies a blueprint edit
func (h *AdminHandler) UpdateEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	var bp models.EventBlueprint
	if err := c.ShouldBindJSON(&bp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := h.eventService.UpdateBlueprint(id, &bp, adminUID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": updated})
}

// DeleteEvent refunds, snapshots and removes a blueprint
func (h *AdminHandler) DeleteEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	if err := h.eventService.DeleteBlueprint(id, adminUID(c)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "event deleted"})
}

// PublishEvent triggers an instance top-up
func (h *AdminHandler) PublishEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	if err := h.eventService.PublishNow(id, adminUID(c)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "published"})
}

// UpdateInstanceOverrides replaces an instance's override set
func (h *AdminHandler) UpdateInstanceOverrides(c *gin.Context) {
	instanceID, err := uuid.Parse(c.Param("instanceId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance id"})
		return
	}
	var patch map[string]json.RawMessage
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inst, err := h.eventService.UpdateInstanceOverrides(instanceID, patch, adminUID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance": inst})
}

// --- Transactions & refunds ---

// ListInstanceTransactions returns the ledger rows funding an instance
func (h *AdminHandler) ListInstanceTransactions(c *gin.Context) {
	instanceID, err := uuid.Parse(c.Param("instanceId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance id"})
		return
	}
	txns, err := h.ledgerService.ListByInstance(instanceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load transactions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

// RefundTransaction refunds selected lines of one order
func (h *AdminHandler) RefundTransaction(c *gin.Context) {
	var req services.AdminRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.OrderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required"})
		return
	}

	uid := adminUID(c)
	txn, err := h.refundService.AdminRefundTransaction(uid, &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.auditService.LogAction(uid, "transaction_refund", "transaction", req.OrderID, map[string]interface{}{
		"refund_all": req.RefundAll,
	})
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// ForceRegister registers a user on an instance bypassing windows and
// eligibility; capacity still applies
func (h *AdminHandler) ForceRegister(c *gin.Context) {
	instanceID, err := uuid.Parse(c.Param("instanceId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance id"})
		return
	}

	var req struct {
		UserID uuid.UUID              `json:"user_id" binding:"required"`
		Change services.ChangeRequest `json:"change"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, inst, eff, err := h.eventService.GetEffectiveInstance(instanceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	target, err := h.userService.GetUserByID(req.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	res, err := h.registrationService.ApplyDirectChange(eff, inst, target, &req.Change, true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "msg": err.Error()})
		return
	}
	h.auditService.LogAction(adminUID(c), "force_register", "event_instance", instanceID.String(), map[string]interface{}{
		"user_id": req.UserID.String(),
	})
	writeRegistrationResult(c, res)
}

// ParticipantsPDF exports the registrant list of an instance
func (h *AdminHandler) ParticipantsPDF(c *gin.Context) {
	instanceID, err := uuid.Parse(c.Param("instanceId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance id"})
		return
	}
	_, inst, eff, err := h.eventService.GetEffectiveInstance(instanceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	pdf, err := h.exportService.ParticipantsPDF(inst, eff)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate export"})
		return
	}
	c.Header("Content-Disposition", "attachment; filename=participants.pdf")
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// --- Discount codes ---

func (h *AdminHandler) ListDiscounts(c *gin.Context) {
	codes, err := h.discountService.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load discount codes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"discount_codes": codes})
}

func (h *AdminHandler) CreateDiscount(c *gin.Context) {
	var dc models.DiscountCode
	if err := c.ShouldBindJSON(&dc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.discountService.Create(&dc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"discount_code": dc})
}

func (h *AdminHandler) SetDiscountActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid discount id"})
		return
	}
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.discountService.SetActive(id, *req.Active); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

func (h *AdminHandler) DeleteDiscount(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid discount id"})
		return
	}
	if err := h.discountService.Delete(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// --- Users ---

func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	users, total, err := h.userService.ListUsers((page-1)*limit, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "total": total, "page": page})
}

func (h *AdminHandler) SetUserMembership(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var req struct {
		Membership *bool `json:"membership" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.userService.SetMembership(id, *req.Membership); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.auditService.LogAction(adminUID(c), "user_membership_update", "user", id.String(), map[string]interface{}{
		"membership": *req.Membership,
	})
	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

func (h *AdminHandler) SetUserActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.userService.SetActive(id, *req.Active); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.auditService.LogAction(adminUID(c), "user_active_update", "user", id.String(), map[string]interface{}{
		"active": *req.Active,
	})
	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

// --- Audit ---

func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, total, err := h.auditService.ListRecent(page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total, "page": page})
}
