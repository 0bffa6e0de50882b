package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/hangar/internal/logbuf"
	"github.com/zulandar/hangar/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists records in the bot_statuses table and appends every
// transition to bot_events.
type GormStore struct {
	db       *gorm.DB
	snapshot int
	now      func() time.Time
}

// NewGormStore creates a GormStore. snapshotLines bounds the persisted log
// tail; zero means DefaultSnapshotLines.
func NewGormStore(db *gorm.DB, snapshotLines int) *GormStore {
	if snapshotLines <= 0 {
		snapshotLines = DefaultSnapshotLines
	}
	return &GormStore{db: db, snapshot: snapshotLines, now: time.Now}
}

// Record upserts the worker's row and appends an event.
func (s *GormStore) Record(ctx context.Context, u Update) error {
	row := models.BotStatus{
		ID:           u.WorkerID,
		Status:       u.Status,
		PID:          u.PID,
		LastStarted:  u.StartedAt,
		LastStopped:  u.StoppedAt,
		LastExitCode: u.ExitCode,
		Message:      u.Message,
		UpdatedAt:    s.now(),
	}
	columns := []string{"status", "pid", "message", "updated_at"}
	if u.StartedAt != nil {
		columns = append(columns, "last_started")
	}
	if u.StoppedAt != nil {
		columns = append(columns, "last_stopped")
	}
	if u.ExitCode != nil {
		columns = append(columns, "last_exit_code")
	}
	if u.Logs != nil {
		data, err := json.Marshal(tail(u.Logs, s.snapshot))
		if err != nil {
			return fmt.Errorf("status: marshal logs for %s: %w", u.WorkerID, err)
		}
		row.Logs = string(data)
		columns = append(columns, "logs")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).Create(&row)
		if result.Error != nil {
			return fmt.Errorf("status: upsert %s: %w", u.WorkerID, result.Error)
		}
		event := models.BotEvent{
			BotID:    u.WorkerID,
			Status:   u.Status,
			PID:      u.PID,
			ExitCode: u.ExitCode,
			Message:  u.Message,
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("status: append event for %s: %w", u.WorkerID, err)
		}
		return nil
	})
}

// Get returns the record for id, or a stopped record when none exists.
func (s *GormStore) Get(ctx context.Context, id string) (Record, error) {
	var row models.BotStatus
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return stoppedRecord(id), nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("status: get %s: %w", id, err)
	}
	return fromRow(row)
}

// List returns every record ordered by id.
func (s *GormStore) List(ctx context.Context) ([]Record, error) {
	return s.find(ctx, s.db.WithContext(ctx).Order("id"))
}

// Running returns the records whose status is running.
func (s *GormStore) Running(ctx context.Context) ([]Record, error) {
	return s.find(ctx, s.db.WithContext(ctx).Where("status = ?", Running).Order("id"))
}

// Events returns up to limit transitions for id, newest first.
func (s *GormStore) Events(ctx context.Context, id string, limit int) ([]models.BotEvent, error) {
	var events []models.BotEvent
	q := s.db.WithContext(ctx).Where("bot_id = ?", id).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("status: events for %s: %w", id, err)
	}
	return events, nil
}

func (s *GormStore) find(_ context.Context, q *gorm.DB) ([]Record, error) {
	var rows []models.BotStatus
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("status: list: %w", err)
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		r, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func fromRow(row models.BotStatus) (Record, error) {
	r := Record{
		WorkerID:     row.ID,
		Status:       row.Status,
		PID:          row.PID,
		LastStarted:  row.LastStarted,
		LastStopped:  row.LastStopped,
		LastExitCode: row.LastExitCode,
		Message:      row.Message,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.Logs != "" {
		var lines []logbuf.Line
		if err := json.Unmarshal([]byte(row.Logs), &lines); err != nil {
			return Record{}, fmt.Errorf("status: decode logs for %s: %w", row.ID, err)
		}
		r.Logs = lines
	}
	return r, nil
}
