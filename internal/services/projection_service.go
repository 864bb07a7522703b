package services

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koinonia/backend/internal/models"
	"gorm.io/gorm"
)

// ProjectionService materializes event instances from blueprints. All
// publishing runs under one mutex so concurrent sweeps and admin-triggered
// publishes never race on series indices.
type ProjectionService struct {
	db *gorm.DB

	publishMu sync.Mutex
}

func NewProjectionService(db *gorm.DB) *ProjectionService {
	return &ProjectionService{db: db}
}

// daysInMonth returns the number of days of the given month.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// addMonthsClamped advances t by n months, clamping the day-of-month to the
// target month's length so Jan 31 + 1 month is Feb 28 (or 29), not Mar 3.
// Time of day and location are preserved.
func addMonthsClamped(t time.Time, n int) time.Time {
	// Normalize via day 1 so AddDate cannot spill into the next month.
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	first = first.AddDate(0, n, 0)

	day := t.Day()
	if max := daysInMonth(first.Year(), first.Month()); day > max {
		day = max
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// targetDate computes the date of the instance at the given series index. The
// anchor index maps to the origin date; every step is taken from the origin so
// month-end clamping never compounds.
func targetDate(origin time.Time, rec models.Recurrence, anchorIndex, index int) time.Time {
	n := index - anchorIndex
	switch rec {
	case models.RecurrenceDaily:
		return origin.AddDate(0, 0, n)
	case models.RecurrenceWeekly:
		return origin.AddDate(0, 0, 7*n)
	case models.RecurrenceMonthly:
		return addMonthsClamped(origin, n)
	case models.RecurrenceYearly:
		return addMonthsClamped(origin, 12*n)
	default:
		return origin
	}
}

// PublishUpcoming tops the blueprint up to its max_published future instances.
// A non-recurring blueprint gets exactly one instance, ever.
func (s *ProjectionService) PublishUpcoming(bp *models.EventBlueprint) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if !bp.CurrentlyPublishing {
		return nil
	}

	now := time.Now().UTC()

	if bp.Recurring == models.RecurrenceNone {
		var count int64
		if err := s.db.Model(&models.EventInstance{}).Where("event_id = ?", bp.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count instances: %w", err)
		}
		if count > 0 {
			return nil
		}
		return s.createInstance(bp, bp.AnchorIndex, bp.Date, now)
	}

	var future int64
	if err := s.db.Model(&models.EventInstance{}).
		Where("event_id = ? AND scheduled_date > ?", bp.ID, now).
		Count(&future).Error; err != nil {
		return fmt.Errorf("failed to count future instances: %w", err)
	}

	need := bp.MaxPublished - int(future)
	if need <= 0 {
		return nil
	}

	nextIndex := bp.AnchorIndex
	var last models.EventInstance
	err := s.db.Where("event_id = ?", bp.ID).Order("series_index DESC").First(&last).Error
	switch {
	case err == nil:
		nextIndex = last.SeriesIndex + 1
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return fmt.Errorf("failed to load last instance: %w", err)
	}

	// Indices whose dates already passed are consumed without publishing, so
	// a long-dormant blueprint resumes in the future instead of backfilling.
	created := 0
	for i := 0; created < need && i < 10000; i++ {
		d := targetDate(bp.Date, bp.Recurring, bp.AnchorIndex, nextIndex)
		if d.After(now) {
			if err := s.createInstance(bp, nextIndex, d, now); err != nil {
				return err
			}
			created++
		}
		nextIndex++
	}
	return nil
}

func (s *ProjectionService) createInstance(bp *models.EventBlueprint, index int, date, now time.Time) error {
	inst := models.EventInstance{
		EventID:                bp.ID,
		SeriesIndex:            index,
		Overrides:              models.InstanceOverrides{},
		OverridesTracker:       models.NewGroupTracker(),
		RegistrationDetails:    models.RegistrationMap{},
		TargetDate:             date,
		ScheduledDate:          date,
		OverridesDateUpdatedOn: now,
	}
	if err := s.db.Create(&inst).Error; err != nil {
		return fmt.Errorf("failed to create instance %d: %w", index, err)
	}
	return nil
}

// RecalculateSchedule re-anchors the series after the blueprint's origin date
// or recurrence changed. The earliest remaining future instance becomes the
// new anchor (so it lands exactly on the new origin date); past instances are
// never touched. Instances with an active date override keep their scheduled
// date, only their target date moves.
func (s *ProjectionService) RecalculateSchedule(bp *models.EventBlueprint) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	now := time.Now().UTC()

	var future []models.EventInstance
	if err := s.db.Where("event_id = ? AND scheduled_date > ?", bp.ID, now).
		Order("series_index ASC").Find(&future).Error; err != nil {
		return fmt.Errorf("failed to load future instances: %w", err)
	}

	if len(future) == 0 {
		var last models.EventInstance
		err := s.db.Where("event_id = ?", bp.ID).Order("series_index DESC").First(&last).Error
		switch {
		case err == nil:
			bp.AnchorIndex = last.SeriesIndex + 1
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return fmt.Errorf("failed to load last instance: %w", err)
		}
	} else {
		bp.AnchorIndex = future[0].SeriesIndex
	}

	if err := s.db.Model(&models.EventBlueprint{}).Where("id = ?", bp.ID).
		Update("anchor_index", bp.AnchorIndex).Error; err != nil {
		return fmt.Errorf("failed to update anchor index: %w", err)
	}

	for i := range future {
		inst := &future[i]
		d := targetDate(bp.Date, bp.Recurring, bp.AnchorIndex, inst.SeriesIndex)

		updates := map[string]interface{}{"target_date": d}
		if !inst.OverridesTracker.Active(GroupDate) {
			updates["scheduled_date"] = d
			updates["overrides_date_updated_on"] = now
		}
		if err := s.db.Model(&models.EventInstance{}).Where("id = ?", inst.ID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to reschedule instance %s: %w", inst.ID, err)
		}
	}
	return nil
}

// SweepAll tops up every actively publishing blueprint. Failures are logged
// per blueprint so one broken series cannot stall the rest.
func (s *ProjectionService) SweepAll() {
	var blueprints []models.EventBlueprint
	if err := s.db.Where("currently_publishing = ?", true).Find(&blueprints).Error; err != nil {
		log.Printf("projection sweep: failed to load blueprints: %v", err)
		return
	}
	for i := range blueprints {
		if err := s.PublishUpcoming(&blueprints[i]); err != nil {
			log.Printf("projection sweep: event %s: %v", blueprints[i].ID, err)
		}
	}
}

// GetInstance loads one instance.
func (s *ProjectionService) GetInstance(id uuid.UUID) (*models.EventInstance, error) {
	var inst models.EventInstance
	if err := s.db.First(&inst, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return &inst, nil
}
