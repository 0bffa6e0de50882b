package models

import "time"

// BotStatus is the persisted last-known state of one worker.
type BotStatus struct {
	ID           string `gorm:"primaryKey;size:64"`
	Status       string `gorm:"size:16;default:stopped;index"`
	PID          int
	LastStarted  *time.Time
	LastStopped  *time.Time
	LastExitCode *int
	Message      string `gorm:"type:text"`
	Logs         string `gorm:"type:text"` // JSON array of recent log lines
	UpdatedAt    time.Time
}

// BotEvent is an append-only history of status transitions.
type BotEvent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	BotID     string    `gorm:"size:64;not null;index"`
	Status    string    `gorm:"size:16;not null"`
	PID       int
	ExitCode  *int
	Message   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}
