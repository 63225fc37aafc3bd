package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"parkgate/internal/models"
)

// ErrVersionConflict indicates a durable save lost the optimistic
// concurrency race: the stored version advanced since the session was read.
// Callers treat it as transient and retry on their next tick.
var ErrVersionConflict = errors.New("session version conflict")

// SessionRepository handles persistence of parking sessions in postgres,
// the durable half of the dual-store layout.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save persists the session. Sessions without an ID are inserted with
// version 1; existing rows are updated with a compare-and-swap on version
// and fail with ErrVersionConflict when the row moved underneath us.
func (r *SessionRepository) Save(ctx context.Context, session *models.Session) (*models.Session, error) {
	if session.ID == 0 {
		const query = `
			INSERT INTO parking_sessions (plate, user_id, allotted_minutes, status, created_at, last_update, version)
			VALUES ($1, $2, $3, $4, $5, $6, 1)
			RETURNING id, version
		`
		err := r.db.QueryRowContext(ctx, query,
			session.Plate,
			session.UserID,
			session.AllottedMinutes,
			session.Status,
			session.CreatedAt,
			session.LastUpdate,
		).Scan(&session.ID, &session.Version)
		if err != nil {
			return nil, err
		}
		return session, nil
	}

	const query = `
		UPDATE parking_sessions
		SET user_id = $3,
		    allotted_minutes = $4,
		    status = $5,
		    last_update = $6,
		    version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`
	err := r.db.QueryRowContext(ctx, query,
		session.ID,
		session.Version,
		session.UserID,
		session.AllottedMinutes,
		session.Status,
		session.LastUpdate,
	).Scan(&session.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// SaveAll inserts the batch inside one transaction: either every record
// lands in durable storage or none do. Used by the full cache sync, which
// must not drop cache records unless the whole batch committed.
func (r *SessionRepository) SaveAll(ctx context.Context, sessions []models.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO parking_sessions (plate, user_id, allotted_minutes, status, created_at, last_update, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
	`
	for _, session := range sessions {
		if _, err := tx.ExecContext(ctx, query,
			session.Plate,
			session.UserID,
			session.AllottedMinutes,
			session.Status,
			session.CreatedAt,
			session.LastUpdate,
		); err != nil {
			return fmt.Errorf("batch save plate %s: %w", session.Plate, err)
		}
	}
	return tx.Commit()
}

// FindByStatus returns sessions in the given status, a snapshot at call
// time with no ordering guarantee.
func (r *SessionRepository) FindByStatus(ctx context.Context, status models.Status) ([]models.Session, error) {
	const query = `
		SELECT id, plate, user_id, allotted_minutes, status, created_at, last_update, version
		FROM parking_sessions
		WHERE status = $1
	`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// FindByPlate returns every row for a plate, most recent first. Closed
// historical sessions are included.
func (r *SessionRepository) FindByPlate(ctx context.Context, plate string) ([]models.Session, error) {
	const query = `
		SELECT id, plate, user_id, allotted_minutes, status, created_at, last_update, version
		FROM parking_sessions
		WHERE plate = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, plate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// FindActiveByPlate returns the single ACTIVE session for a plate, or nil
// when the vehicle is not parked here.
func (r *SessionRepository) FindActiveByPlate(ctx context.Context, plate string) (*models.Session, error) {
	const query = `
		SELECT id, plate, user_id, allotted_minutes, status, created_at, last_update, version
		FROM parking_sessions
		WHERE plate = $1 AND status = $2
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, plate, models.StatusActive)
	var s models.Session
	err := row.Scan(&s.ID, &s.Plate, &s.UserID, &s.AllottedMinutes, &s.Status, &s.CreatedAt, &s.LastUpdate, &s.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Delete removes every row for a plate. Deleting an absent plate is a no-op.
func (r *SessionRepository) Delete(ctx context.Context, plate string) error {
	const query = `DELETE FROM parking_sessions WHERE plate = $1`
	_, err := r.db.ExecContext(ctx, query, plate)
	return err
}

func scanSessions(rows *sql.Rows) ([]models.Session, error) {
	var sessions []models.Session
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(
			&s.ID,
			&s.Plate,
			&s.UserID,
			&s.AllottedMinutes,
			&s.Status,
			&s.CreatedAt,
			&s.LastUpdate,
			&s.Version,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}
