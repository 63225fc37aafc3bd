package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt is the immutable billing record issued exactly once per session
// closure. Owned by durable storage after the insert, never updated.
type Receipt struct {
	ID              string          `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	Plate           string          `db:"plate" json:"plate"`
	AllottedMinutes int64           `db:"allotted_minutes" json:"allotted_minutes"`
	ParkedAt        time.Time       `db:"parked_at" json:"parked_at"`
	ClosedAt        time.Time       `db:"closed_at" json:"closed_at"`
	ElapsedSeconds  int64           `db:"elapsed_seconds" json:"elapsed_seconds"`
	PricePerMinute  decimal.Decimal `db:"price_per_minute" json:"price_per_minute"`
	Total           decimal.Decimal `db:"total" json:"total"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Elapsed returns the billed occupancy time.
func (r Receipt) Elapsed() time.Duration {
	return time.Duration(r.ElapsedSeconds) * time.Second
}
