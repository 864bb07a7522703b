package services

import (
	"encoding/json"
	"log"

	"github.com/koinonia/backend/internal/models"
	"gorm.io/gorm"
)

// AuditService records sensitive admin actions. Logging never fails the
// action being audited.
type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// LogAction writes one audit entry.
func (s *AuditService) LogAction(adminUID, action, targetType, targetID string, detail map[string]interface{}) {
	entry := models.AuditLog{
		AdminUID:   adminUID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
	}
	if detail != nil {
		if raw, err := json.Marshal(detail); err == nil {
			entry.Detail = models.JSONRaw(raw)
		}
	}
	if err := s.db.Create(&entry).Error; err != nil {
		log.Printf("audit: failed to record %s on %s/%s: %v", action, targetType, targetID, err)
	}
}

// ListRecent returns audit entries, newest first.
func (s *AuditService) ListRecent(page, limit int) ([]models.AuditLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	var total int64
	if err := s.db.Model(&models.AuditLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.AuditLog
	if err := s.db.Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
