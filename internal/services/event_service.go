package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/koinonia/backend/internal/models"
	"gorm.io/gorm"
)

// EventService owns blueprint CRUD, instance override edits and the deletion
// flow (refund, snapshot, delete).
type EventService struct {
	db         *gorm.DB
	refunds    *RefundService
	snapshot   *SnapshotService
	projection *ProjectionService
	audit      *AuditService
}

func NewEventService(db *gorm.DB, refunds *RefundService, snapshot *SnapshotService, projection *ProjectionService, audit *AuditService) *EventService {
	return &EventService{
		db:         db,
		refunds:    refunds,
		snapshot:   snapshot,
		projection: projection,
		audit:      audit,
	}
}

// CreateBlueprint validates, persists and publishes the first instances.
func (s *EventService) CreateBlueprint(bp *models.EventBlueprint, adminUID string) error {
	if bp.MaxPublished < 1 {
		bp.MaxPublished = 1
	}
	if bp.AnchorIndex < 1 {
		bp.AnchorIndex = 1
	}
	if err := bp.Validate(time.Now().UTC(), true); err != nil {
		return err
	}
	if err := s.db.Create(bp).Error; err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	if err := s.projection.PublishUpcoming(bp); err != nil {
		return err
	}
	s.audit.LogAction(adminUID, "event_create", "event", bp.ID.String(), nil)
	return nil
}

// UpdateBlueprint applies an admin edit. A change to the origin date or the
// recurrence re-anchors the whole series before topping instances back up.
func (s *EventService) UpdateBlueprint(id uuid.UUID, updated *models.EventBlueprint, adminUID string) (*models.EventBlueprint, error) {
	bp, err := s.GetBlueprint(id)
	if err != nil {
		return nil, err
	}

	dateChanged := !bp.Date.Equal(updated.Date)
	recurrenceChanged := bp.Recurring != updated.Recurring

	updated.ID = bp.ID
	updated.AnchorIndex = bp.AnchorIndex
	updated.CreatedAt = bp.CreatedAt
	if err := updated.Validate(time.Now().UTC(), dateChanged); err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.EventBlueprint{}).Where("id = ?", id).
		Select("*").Omit("id", "created_at", "anchor_index").
		Updates(updated).Error; err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}

	if dateChanged || recurrenceChanged {
		if err := s.projection.RecalculateSchedule(updated); err != nil {
			return nil, err
		}
	}
	if err := s.projection.PublishUpcoming(updated); err != nil {
		return nil, err
	}

	s.audit.LogAction(adminUID, "event_update", "event", id.String(), map[string]interface{}{
		"date_changed":       dateChanged,
		"recurrence_changed": recurrenceChanged,
	})
	return s.GetBlueprint(id)
}

// DeleteBlueprint refunds every upcoming paid line, archives a snapshot and
// only then removes the instances and the blueprint. A failed snapshot aborts
// the deletion; the refunds already sent stand on the ledger.
func (s *EventService) DeleteBlueprint(id uuid.UUID, adminUID string) error {
	bp, err := s.GetBlueprint(id)
	if err != nil {
		return err
	}

	s.refunds.RefundUpcomingEventLines(bp, adminUID)

	var instances []models.EventInstance
	if err := s.db.Where("event_id = ?", id).Order("series_index ASC").
		Find(&instances).Error; err != nil {
		return fmt.Errorf("failed to load instances: %w", err)
	}

	path, err := s.snapshot.WriteDeletedEvent(bp, instances)
	if err != nil {
		return fmt.Errorf("deletion aborted, snapshot failed: %w", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", id).Delete(&models.EventInstance{}).Error; err != nil {
			return fmt.Errorf("failed to delete instances: %w", err)
		}
		if err := tx.Delete(&models.EventBlueprint{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete event: %w", err)
		}
		s.audit.LogAction(adminUID, "event_delete", "event", id.String(), map[string]interface{}{
			"snapshot_path": path,
			"instances":     len(instances),
		})
		return nil
	})
}

func (s *EventService) GetBlueprint(id uuid.UUID) (*models.EventBlueprint, error) {
	var bp models.EventBlueprint
	if err := s.db.First(&bp, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &bp, nil
}

func (s *EventService) ListBlueprints() ([]models.EventBlueprint, error) {
	var bps []models.EventBlueprint
	if err := s.db.Order("date ASC").Find(&bps).Error; err != nil {
		return nil, err
	}
	return bps, nil
}

// GetEffectiveInstance loads an instance with its blueprint and merged view.
func (s *EventService) GetEffectiveInstance(instanceID uuid.UUID) (*models.EventBlueprint, *models.EventInstance, *models.EventBlueprint, error) {
	inst, err := s.projection.GetInstance(instanceID)
	if err != nil {
		return nil, nil, nil, err
	}
	bp, err := s.GetBlueprint(inst.EventID)
	if err != nil {
		return nil, nil, nil, err
	}
	eff := EffectiveEvent(bp, inst)
	return bp, inst, &eff, nil
}

// EffectiveInstanceView is the public shape of one occurrence.
type EffectiveInstanceView struct {
	InstanceID  uuid.UUID             `json:"instance_id"`
	EventID     uuid.UUID             `json:"event_id"`
	SeriesIndex int                   `json:"series_index"`
	Event       models.EventBlueprint `json:"event"`
	SeatsFilled int                   `json:"seats_filled"`
	SeatsLeft   *int                  `json:"seats_left,omitempty"`
}

func newEffectiveView(inst *models.EventInstance, eff models.EventBlueprint) EffectiveInstanceView {
	view := EffectiveInstanceView{
		InstanceID:  inst.ID,
		EventID:     inst.EventID,
		SeriesIndex: inst.SeriesIndex,
		Event:       eff,
		SeatsFilled: inst.SeatsFilled,
	}
	if eff.MaxSpots != nil {
		left := *eff.MaxSpots - inst.SeatsFilled
		if left < 0 {
			left = 0
		}
		view.SeatsLeft = &left
	}
	return view
}

// ListUpcomingVisible returns the future occurrences whose effective view is
// not hidden, soonest first.
func (s *EventService) ListUpcomingVisible() ([]EffectiveInstanceView, error) {
	now := time.Now().UTC()
	var instances []models.EventInstance
	if err := s.db.Where("scheduled_date > ?", now).
		Order("scheduled_date ASC").Find(&instances).Error; err != nil {
		return nil, err
	}

	blueprints := map[uuid.UUID]*models.EventBlueprint{}
	views := make([]EffectiveInstanceView, 0, len(instances))
	for i := range instances {
		inst := &instances[i]
		bp, ok := blueprints[inst.EventID]
		if !ok {
			loaded, err := s.GetBlueprint(inst.EventID)
			if err != nil {
				continue
			}
			bp = loaded
			blueprints[inst.EventID] = bp
		}
		eff := EffectiveEvent(bp, inst)
		if eff.Hidden {
			continue
		}
		views = append(views, newEffectiveView(inst, eff))
	}
	return views, nil
}

// ListInstances returns all instances of a blueprint for admin views.
func (s *EventService) ListInstances(eventID uuid.UUID) ([]models.EventInstance, error) {
	var instances []models.EventInstance
	if err := s.db.Where("event_id = ?", eventID).
		Order("series_index ASC").Find(&instances).Error; err != nil {
		return nil, err
	}
	return instances, nil
}

// UpdateInstanceOverrides replaces an instance's overrides with a packaged
// patch. The merged view must still satisfy every blueprint invariant; a date
// override moves the scheduled date, clearing the date group snaps it back to
// the target date.
func (s *EventService) UpdateInstanceOverrides(instanceID uuid.UUID, patch map[string]json.RawMessage, adminUID string) (*models.EventInstance, error) {
	inst, err := s.projection.GetInstance(instanceID)
	if err != nil {
		return nil, err
	}
	bp, err := s.GetBlueprint(inst.EventID)
	if err != nil {
		return nil, err
	}

	overrides, tracker, err := PackageOverrides(patch, bp, inst.TargetDate)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	scheduled := inst.TargetDate
	if tracker.Active(GroupDate) && overrides.Date != nil {
		scheduled = *overrides.Date
	}
	dateChanged := !scheduled.Equal(inst.ScheduledDate)

	merged := *inst
	merged.Overrides = overrides
	merged.OverridesTracker = tracker
	merged.ScheduledDate = scheduled
	if err := ValidateEffective(bp, &merged, now, dateChanged); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"overrides":         overrides,
		"overrides_tracker": tracker,
	}
	if dateChanged {
		updates["scheduled_date"] = scheduled
		updates["overrides_date_updated_on"] = now
	}
	if err := s.db.Model(&models.EventInstance{}).Where("id = ?", instanceID).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update overrides: %w", err)
	}

	s.audit.LogAction(adminUID, "instance_overrides_update", "event_instance", instanceID.String(), map[string]interface{}{
		"fields": overrideFieldNames(patch),
	})
	return s.projection.GetInstance(instanceID)
}

func overrideFieldNames(patch map[string]json.RawMessage) []string {
	names := make([]string, 0, len(patch))
	for f := range patch {
		names = append(names, f)
	}
	return names
}

// PublishNow triggers a projection top-up for one blueprint.
func (s *EventService) PublishNow(eventID uuid.UUID, adminUID string) error {
	bp, err := s.GetBlueprint(eventID)
	if err != nil {
		return err
	}
	if err := s.projection.PublishUpcoming(bp); err != nil {
		return err
	}
	s.audit.LogAction(adminUID, "event_publish", "event", eventID.String(), nil)
	return nil
}
