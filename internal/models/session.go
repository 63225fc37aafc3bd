package models

import "time"

// Status of a parking session.
type Status string

// A session is ACTIVE from park until close and CLOSED afterwards. The
// transition is one-way; a closed session is never reopened.
const (
	StatusActive Status = "ACTIVE"
	StatusClosed Status = "CLOSED"
)

// Session represents one vehicle's parking occupancy, keyed by plate.
// ID and Version belong to the durable representation; the cache copy
// carries them as zero.
type Session struct {
	ID              int64     `db:"id" json:"id"`
	Plate           string    `db:"plate" json:"plate"`
	UserID          int64     `db:"user_id" json:"user_id"`
	AllottedMinutes int64     `db:"allotted_minutes" json:"allotted_minutes"`
	Status          Status    `db:"status" json:"status"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	LastUpdate      time.Time `db:"last_update" json:"last_update"`
	Version         int64     `db:"version" json:"version"`
}

// Allotted returns the purchased parking time as a duration.
func (s Session) Allotted() time.Duration {
	return time.Duration(s.AllottedMinutes) * time.Minute
}
