package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/koinonia/backend/internal/config"
	"github.com/koinonia/backend/internal/models"
)

// SnapshotService writes JSON snapshots of deleted events to a durable
// directory. Deletion aborts if the snapshot cannot be written.
type SnapshotService struct {
	dir string
}

func NewSnapshotService(cfg *config.Config) *SnapshotService {
	_ = os.MkdirAll(cfg.SnapshotPath, 0o755)
	return &SnapshotService{dir: cfg.SnapshotPath}
}

// DeletedEventSnapshot is the archived shape of a blueprint and its instances.
type DeletedEventSnapshot struct {
	SnapshotTime time.Time              `json:"snapshot_time"`
	EventID      string                 `json:"event_id"`
	Event        *models.EventBlueprint `json:"event"`
	Instances    []models.EventInstance `json:"instances"`
}

// WriteDeletedEvent archives the blueprint before deletion. The file is
// written to a temp path and renamed so a crash never leaves a torn snapshot.
func (s *SnapshotService) WriteDeletedEvent(bp *models.EventBlueprint, instances []models.EventInstance) (string, error) {
	snap := DeletedEventSnapshot{
		SnapshotTime: time.Now().UTC(),
		EventID:      bp.ID.String(),
		Event:        bp,
		Instances:    instances,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	absPath := filepath.Join(s.dir, bp.ID.String()+".json")
	tmp := absPath + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, absPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	return absPath, nil
}
