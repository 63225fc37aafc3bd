package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"parkgate/internal/models"
	"parkgate/internal/notify"
	"parkgate/internal/pricing"
)

const billingTemplate = "TOPIC_PUBLISH: %s"

// ReceiptSink appends billing records to durable storage.
type ReceiptSink interface {
	Save(ctx context.Context, receipt *models.Receipt) (*models.Receipt, error)
}

// Biller is the single owner of receipt issuance. Every closure path (the
// reconciliation engine's two migration passes and the unpark endpoint)
// goes through Issue, which is what keeps the session-receipt relationship
// one to one.
type Biller struct {
	receipts  ReceiptSink
	publisher notify.Publisher
	perMinute decimal.Decimal
	logger    *zap.Logger
}

// NewBiller builds biller with the configured per-minute price.
func NewBiller(receipts ReceiptSink, publisher notify.Publisher, perMinute decimal.Decimal, logger *zap.Logger) *Biller {
	return &Biller{
		receipts:  receipts,
		publisher: publisher,
		perMinute: perMinute,
		logger:    logger,
	}
}

// Issue computes the bill for a just-closed session and appends the
// receipt. The elapsed time is taken from the saved durable record's
// timestamps, not recomputed from the wall clock. The billing notification
// is best-effort and precedes the receipt write, matching the closing
// sequence the rest of the system expects.
func (b *Biller) Issue(ctx context.Context, session models.Session) (*models.Receipt, error) {
	elapsed := pricing.Elapsed(session.CreatedAt, session.LastUpdate)

	receipt := &models.Receipt{
		ID:              uuid.NewString(),
		UserID:          session.UserID,
		Plate:           session.Plate,
		AllottedMinutes: session.AllottedMinutes,
		ParkedAt:        session.CreatedAt,
		ClosedAt:        session.LastUpdate,
		ElapsedSeconds:  int64(elapsed / time.Second),
		PricePerMinute:  b.perMinute,
		Total:           pricing.ForDuration(elapsed, b.perMinute),
	}

	b.publisher.Publish(ctx, receipt, billingTemplate)

	saved, err := b.receipts.Save(ctx, receipt)
	if err != nil {
		return nil, fmt.Errorf("save receipt for plate %s: %w", session.Plate, err)
	}

	b.logger.Info("receipt issued",
		zap.String("plate", saved.Plate),
		zap.Int64("billed_minutes", pricing.BilledMinutes(elapsed)),
		zap.String("total", saved.Total.String()),
	)
	return saved, nil
}
