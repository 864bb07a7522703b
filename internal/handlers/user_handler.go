package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/koinonia/backend/internal/services"
)

type UserHandler struct {
	userService *services.UserService
}

func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// GetProfile retrieves the current user's profile
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, _ := c.Get("userID")

	user, err := h.userService.GetUserByID(userID.(uuid.UUID))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":             user.ID,
		"email":          user.Email,
		"name":           user.Name,
		"membership":     user.Membership,
		"gender":         user.Gender,
		"birthday":       user.Birthday,
		"family_members": user.FamilyMembers,
		"created_at":     user.CreatedAt,
	})
}

// UpdateProfile updates the current user's editable fields
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, _ := c.Get("userID")

	var req struct {
		Name     string     `json:"name"`
		Gender   string     `json:"gender"`
		Birthday *time.Time `json:"birthday"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userService.UpdateProfile(userID.(uuid.UUID), req.Name, req.Gender, req.Birthday)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "profile updated", "family_members": user.FamilyMembers})
}

// AddFamilyMember adds a dependant
func (h *UserHandler) AddFamilyMember(c *gin.Context) {
	userID, _ := c.Get("userID")

	var req struct {
		Name     string     `json:"name" binding:"required"`
		Gender   string     `json:"gender"`
		Birthday *time.Time `json:"birthday"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userService.AddFamilyMember(userID.(uuid.UUID), req.Name, req.Gender, req.Birthday)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"family_members": user.FamilyMembers})
}

// RemoveFamilyMember removes a dependant
func (h *UserHandler) RemoveFamilyMember(c *gin.Context) {
	userID, _ := c.Get("userID")
	memberID := c.Param("memberId")

	user, err := h.userService.RemoveFamilyMember(userID.(uuid.UUID), memberID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"family_members": user.FamilyMembers})
}
