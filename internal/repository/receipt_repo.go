package repository

import (
	"context"
	"database/sql"

	"parkgate/internal/models"
)

// ReceiptRepository persists billing receipts. The table is append-only;
// there is deliberately no update or delete here.
type ReceiptRepository struct {
	db *sql.DB
}

// NewReceiptRepository returns repository.
func NewReceiptRepository(db *sql.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// Save inserts a new receipt.
func (r *ReceiptRepository) Save(ctx context.Context, receipt *models.Receipt) (*models.Receipt, error) {
	const query = `
		INSERT INTO receipts (id, user_id, plate, allotted_minutes, parked_at, closed_at, elapsed_seconds, price_per_minute, total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		receipt.ID,
		receipt.UserID,
		receipt.Plate,
		receipt.AllottedMinutes,
		receipt.ParkedAt,
		receipt.ClosedAt,
		receipt.ElapsedSeconds,
		receipt.PricePerMinute,
		receipt.Total,
	).Scan(&receipt.CreatedAt)
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListByUser returns latest receipts for user.
func (r *ReceiptRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, user_id, plate, allotted_minutes, parked_at, closed_at, elapsed_seconds, price_per_minute, total, created_at
		FROM receipts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var receipt models.Receipt
		if err := rows.Scan(
			&receipt.ID,
			&receipt.UserID,
			&receipt.Plate,
			&receipt.AllottedMinutes,
			&receipt.ParkedAt,
			&receipt.ClosedAt,
			&receipt.ElapsedSeconds,
			&receipt.PricePerMinute,
			&receipt.Total,
			&receipt.CreatedAt,
		); err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}
