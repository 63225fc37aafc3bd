package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"parkgate/internal/models"
	"parkgate/internal/notify"
	"parkgate/internal/pricing"
	"parkgate/internal/repository"
)

const warningTemplate = "you have 5 minutes left before your time expires, plate: %s"

// SessionStore is the verb set shared by the cache and durable adapters.
// The engine only ever talks to this interface, never to a concrete store.
type SessionStore interface {
	FindByStatus(ctx context.Context, status models.Status) ([]models.Session, error)
	Save(ctx context.Context, session *models.Session) (*models.Session, error)
	Delete(ctx context.Context, plate string) error
}

// CacheStore adds the full-drain verbs only the cache side supports.
type CacheStore interface {
	SessionStore
	FindAll(ctx context.Context) ([]models.Session, error)
	DeleteAll(ctx context.Context, plates []string) error
}

// DurableStore adds the transactional batch write used by the full sync.
type DurableStore interface {
	SessionStore
	SaveAll(ctx context.Context, sessions []models.Session) error
}

// ReceiptIssuer bills a closed session exactly once.
type ReceiptIssuer interface {
	Issue(ctx context.Context, session models.Session) (*models.Receipt, error)
}

// Config tunes the engine.
type Config struct {
	// WarningWindow is how long before expiry the warning sweep starts
	// notifying a session.
	WarningWindow time.Duration
	// Concurrency bounds the per-item fan-out inside a sweep.
	Concurrency int
}

// Engine keeps the cache and durable stores eventually consistent. It owns
// the three periodic sweeps: expiry warnings, status synchronization (the
// migration path that closes and bills expired sessions) and the full
// cache-to-durable sync backstop.
type Engine struct {
	cache         CacheStore
	durable       DurableStore
	biller        ReceiptIssuer
	publisher     notify.Publisher
	warningWindow time.Duration
	concurrency   int
	logger        *zap.Logger

	now func() time.Time
}

// NewEngine builds the engine.
func NewEngine(cache CacheStore, durable DurableStore, biller ReceiptIssuer, publisher notify.Publisher, cfg Config, logger *zap.Logger) *Engine {
	if cfg.WarningWindow <= 0 {
		cfg.WarningWindow = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Engine{
		cache:         cache,
		durable:       durable,
		biller:        biller,
		publisher:     publisher,
		warningWindow: cfg.WarningWindow,
		concurrency:   cfg.Concurrency,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WarningSweep notifies every ACTIVE session in either store that is close
// to expiry. It mutates nothing; a session is warned again on the next
// sweep if it is still near expiry.
func (e *Engine) WarningSweep(ctx context.Context) error {
	now := e.now()
	e.warnStore(ctx, now, e.cache, "cache")
	e.warnStore(ctx, now, e.durable, "durable")
	return nil
}

func (e *Engine) warnStore(ctx context.Context, now time.Time, store SessionStore, origin string) {
	sessions, err := store.FindByStatus(ctx, models.StatusActive)
	if err != nil {
		e.logger.Error("warning sweep: fetch active sessions failed",
			zap.String("origin", origin), zap.Error(err))
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, session := range sessions {
		session := session
		g.Go(func() error {
			if pricing.IsNearExpiry(now, session.LastUpdate, session.Allotted(), e.warningWindow) {
				e.publisher.Publish(ctx, session, warningTemplate)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// SynchronizeStatus is the migration path: each sub-pass closes the expired
// ACTIVE sessions of one store. The sub-passes are independent; an error in
// one never affects the other, and a session that fails to close stays
// ACTIVE and is retried on the next tick.
func (e *Engine) SynchronizeStatus(ctx context.Context) error {
	now := e.now()
	e.closeExpiredFromCache(ctx, now)
	e.closeExpiredFromDurable(ctx, now)
	return nil
}

func (e *Engine) closeExpiredFromCache(ctx context.Context, now time.Time) {
	sessions, err := e.cache.FindByStatus(ctx, models.StatusActive)
	if err != nil {
		e.logger.Error("status sync: fetch cache sessions failed", zap.Error(err))
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, session := range sessions {
		session := session
		g.Go(func() error {
			if !pricing.IsExpired(now, session.LastUpdate, session.Allotted()) {
				return nil
			}
			if err := e.migrateFromCache(ctx, now, session); err != nil {
				e.logger.Error("status sync: failed to close cache session",
					zap.String("plate", session.Plate), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	e.logger.Info("successful operation for cache sessions")
}

// migrateFromCache performs the authoritative closing sequence for a
// cache-resident session. The durable write strictly precedes the cache
// delete: a crash in between leaves a duplicate that the unique active
// index surfaces, never a lost session.
func (e *Engine) migrateFromCache(ctx context.Context, now time.Time, session models.Session) error {
	closed := session
	closed.ID = 0
	closed.Version = 0
	closed.Status = models.StatusClosed
	closed.LastUpdate = now

	saved, err := e.durable.Save(ctx, &closed)
	if err != nil {
		return fmt.Errorf("durable save: %w", err)
	}
	if err := e.cache.Delete(ctx, session.Plate); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	if _, err := e.biller.Issue(ctx, *saved); err != nil {
		return err
	}
	return nil
}

func (e *Engine) closeExpiredFromDurable(ctx context.Context, now time.Time) {
	sessions, err := e.durable.FindByStatus(ctx, models.StatusActive)
	if err != nil {
		e.logger.Error("status sync: fetch durable sessions failed", zap.Error(err))
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, session := range sessions {
		session := session
		g.Go(func() error {
			if !pricing.IsExpired(now, session.LastUpdate, session.Allotted()) {
				return nil
			}
			session.Status = models.StatusClosed
			session.LastUpdate = now

			saved, err := e.durable.Save(ctx, &session)
			if errors.Is(err, repository.ErrVersionConflict) {
				// someone else closed or drained it first; next tick decides
				e.logger.Warn("status sync: version conflict, skipping",
					zap.String("plate", session.Plate))
				return nil
			}
			if err != nil {
				e.logger.Error("status sync: failed to close durable session",
					zap.String("plate", session.Plate), zap.Error(err))
				return nil
			}
			if _, err := e.biller.Issue(ctx, *saved); err != nil {
				e.logger.Error("status sync: failed to issue receipt",
					zap.String("plate", session.Plate), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	e.logger.Info("successful operation for durable sessions")
}

// SynchronizeCache is the convergence backstop: it drains the entire cache
// into durable storage regardless of status or expiry. Statuses are copied
// as-is, so this is not a closure event and no receipts are produced;
// drained ACTIVE sessions are later closed by the durable-origin pass. The
// cache is only emptied after the whole batch committed.
func (e *Engine) SynchronizeCache(ctx context.Context) error {
	sessions, err := e.cache.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("full sync: fetch cache: %w", err)
	}
	if len(sessions) == 0 {
		e.logger.Info("cache empty, synchronization not performed")
		return nil
	}

	batch := make([]models.Session, len(sessions))
	plates := make([]string, len(sessions))
	for i, session := range sessions {
		session.ID = 0
		session.Version = 0
		batch[i] = session
		plates[i] = session.Plate
	}

	if err := e.durable.SaveAll(ctx, batch); err != nil {
		return fmt.Errorf("full sync: durable batch save: %w", err)
	}
	if err := e.cache.DeleteAll(ctx, plates); err != nil {
		return fmt.Errorf("full sync: cache drain: %w", err)
	}

	e.logger.Info("successful synchronization", zap.Int("sessions", len(batch)))
	return nil
}
