package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"parkgate/internal/models"
)

var (
	// ErrAlreadyParked is returned when a plate already has an ACTIVE
	// session in either store.
	ErrAlreadyParked = errors.New("parking: plate already has an active session")
	// ErrSessionNotFound is returned when unparking a plate with no
	// active session anywhere.
	ErrSessionNotFound = errors.New("parking: no active session for plate")
)

// SessionCache is the cache-store surface the parking service uses.
type SessionCache interface {
	FindByPlate(ctx context.Context, plate string) (*models.Session, error)
	FindByStatus(ctx context.Context, status models.Status) ([]models.Session, error)
	Save(ctx context.Context, session *models.Session) (*models.Session, error)
	Delete(ctx context.Context, plate string) error
}

// SessionArchive is the durable-store surface the parking service uses.
type SessionArchive interface {
	FindActiveByPlate(ctx context.Context, plate string) (*models.Session, error)
	FindByPlate(ctx context.Context, plate string) ([]models.Session, error)
	FindByStatus(ctx context.Context, status models.Status) ([]models.Session, error)
	Save(ctx context.Context, session *models.Session) (*models.Session, error)
}

// ReceiptIssuer bills a closed session.
type ReceiptIssuer interface {
	Issue(ctx context.Context, session models.Session) (*models.Receipt, error)
}

// ParkingService implements the user-facing park/unpark/query operations.
// New sessions land in the cache store; the reconciliation engine (or an
// explicit unpark) migrates them to durable storage.
type ParkingService struct {
	cache   SessionCache
	archive SessionArchive
	biller  ReceiptIssuer
	logger  *zap.Logger

	now func() time.Time
}

// ParkInput is the park request payload.
type ParkInput struct {
	UserID  int64
	Plate   string
	Minutes int64
}

// NewParkingService builds service.
func NewParkingService(cache SessionCache, archive SessionArchive, biller ReceiptIssuer, logger *zap.Logger) *ParkingService {
	return &ParkingService{
		cache:   cache,
		archive: archive,
		biller:  biller,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Park opens a new ACTIVE session in the cache store. A plate may hold at
// most one ACTIVE session across both stores, so both are checked first.
func (s *ParkingService) Park(ctx context.Context, input ParkInput) (*models.Session, error) {
	plate := normalizePlate(input.Plate)
	if plate == "" {
		return nil, errors.New("parking: plate required")
	}
	if input.Minutes <= 0 {
		return nil, errors.New("parking: allotted minutes must be positive")
	}

	cached, err := s.cache.FindByPlate(ctx, plate)
	if err != nil {
		return nil, fmt.Errorf("check cache: %w", err)
	}
	if cached != nil && cached.Status == models.StatusActive {
		return nil, ErrAlreadyParked
	}

	archived, err := s.archive.FindActiveByPlate(ctx, plate)
	if err != nil {
		return nil, fmt.Errorf("check durable store: %w", err)
	}
	if archived != nil {
		return nil, ErrAlreadyParked
	}

	now := s.now()
	session := &models.Session{
		Plate:           plate,
		UserID:          input.UserID,
		AllottedMinutes: input.Minutes,
		Status:          models.StatusActive,
		CreatedAt:       now,
		LastUpdate:      now,
	}

	saved, err := s.cache.Save(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.logger.Info("vehicle parked",
		zap.String("plate", plate),
		zap.Int64("user_id", input.UserID),
		zap.Int64("allotted_minutes", input.Minutes),
	)
	return saved, nil
}

// Unpark closes the plate's active session immediately and bills it. The
// closing sequence mirrors the engine's migration path: durable write
// first, cache delete second, receipt last.
func (s *ParkingService) Unpark(ctx context.Context, plate string) (*models.Receipt, error) {
	plate = normalizePlate(plate)
	if plate == "" {
		return nil, errors.New("parking: plate required")
	}
	now := s.now()

	if cached, err := s.cache.FindByPlate(ctx, plate); err != nil {
		return nil, fmt.Errorf("check cache: %w", err)
	} else if cached != nil && cached.Status == models.StatusActive {
		closed := *cached
		closed.Status = models.StatusClosed
		closed.LastUpdate = now

		saved, err := s.archive.Save(ctx, &closed)
		if err != nil {
			return nil, fmt.Errorf("durable save: %w", err)
		}
		if err := s.cache.Delete(ctx, plate); err != nil {
			return nil, fmt.Errorf("cache delete: %w", err)
		}
		return s.biller.Issue(ctx, *saved)
	}

	archived, err := s.archive.FindActiveByPlate(ctx, plate)
	if err != nil {
		return nil, fmt.Errorf("check durable store: %w", err)
	}
	if archived == nil {
		return nil, ErrSessionNotFound
	}

	archived.Status = models.StatusClosed
	archived.LastUpdate = now
	saved, err := s.archive.Save(ctx, archived)
	if err != nil {
		return nil, fmt.Errorf("durable save: %w", err)
	}
	return s.biller.Issue(ctx, *saved)
}

// FindSessions queries both stores. Plate narrows to one vehicle's rows,
// status filters by lifecycle state; either may be empty.
func (s *ParkingService) FindSessions(ctx context.Context, plate string, status models.Status) ([]models.Session, error) {
	plate = normalizePlate(plate)

	var result []models.Session

	if plate != "" {
		cached, err := s.cache.FindByPlate(ctx, plate)
		if err != nil {
			return nil, err
		}
		if cached != nil && (status == "" || cached.Status == status) {
			result = append(result, *cached)
		}
		archived, err := s.archive.FindByPlate(ctx, plate)
		if err != nil {
			return nil, err
		}
		for _, session := range archived {
			if status == "" || session.Status == status {
				result = append(result, session)
			}
		}
		return result, nil
	}

	if status == "" {
		status = models.StatusActive
	}
	cached, err := s.cache.FindByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	archived, err := s.archive.FindByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	result = append(result, cached...)
	result = append(result, archived...)
	return result, nil
}

func normalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}
