package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parkgate/internal/models"
)

var parkedAt = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type cacheFake struct {
	sessions map[string]models.Session
	saveErr  error
	deletes  []string
}

func newCacheFake(sessions ...models.Session) *cacheFake {
	c := &cacheFake{sessions: make(map[string]models.Session)}
	for _, s := range sessions {
		c.sessions[s.Plate] = s
	}
	return c
}

func (c *cacheFake) FindByPlate(_ context.Context, plate string) (*models.Session, error) {
	if s, ok := c.sessions[plate]; ok {
		return &s, nil
	}
	return nil, nil
}

func (c *cacheFake) FindByStatus(_ context.Context, status models.Status) ([]models.Session, error) {
	var matched []models.Session
	for _, s := range c.sessions {
		if s.Status == status {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

func (c *cacheFake) Save(_ context.Context, session *models.Session) (*models.Session, error) {
	if c.saveErr != nil {
		return nil, c.saveErr
	}
	c.sessions[session.Plate] = *session
	return session, nil
}

func (c *cacheFake) Delete(_ context.Context, plate string) error {
	delete(c.sessions, plate)
	c.deletes = append(c.deletes, plate)
	return nil
}

type archiveFake struct {
	rows    []models.Session
	saveErr error
	nextID  int64
}

func (a *archiveFake) FindActiveByPlate(_ context.Context, plate string) (*models.Session, error) {
	for _, s := range a.rows {
		if s.Plate == plate && s.Status == models.StatusActive {
			row := s
			return &row, nil
		}
	}
	return nil, nil
}

func (a *archiveFake) FindByPlate(_ context.Context, plate string) ([]models.Session, error) {
	var matched []models.Session
	for _, s := range a.rows {
		if s.Plate == plate {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

func (a *archiveFake) FindByStatus(_ context.Context, status models.Status) ([]models.Session, error) {
	var matched []models.Session
	for _, s := range a.rows {
		if s.Status == status {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

func (a *archiveFake) Save(_ context.Context, session *models.Session) (*models.Session, error) {
	if a.saveErr != nil {
		return nil, a.saveErr
	}
	if session.ID == 0 {
		a.nextID++
		session.ID = a.nextID
		session.Version = 1
		a.rows = append(a.rows, *session)
		return session, nil
	}
	for i := range a.rows {
		if a.rows[i].ID == session.ID {
			session.Version++
			a.rows[i] = *session
			return session, nil
		}
	}
	return nil, errors.New("no such row")
}

type issuerFake struct {
	issued []models.Session
	err    error
}

func (f *issuerFake) Issue(_ context.Context, session models.Session) (*models.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.issued = append(f.issued, session)
	return &models.Receipt{ID: "r-1", Plate: session.Plate, UserID: session.UserID}, nil
}

func newTestService(cache *cacheFake, archive *archiveFake, issuer *issuerFake) *ParkingService {
	svc := NewParkingService(cache, archive, issuer, zap.NewNop())
	svc.now = func() time.Time { return parkedAt }
	return svc
}

func active(plate string, status models.Status) models.Session {
	return models.Session{
		Plate:           plate,
		UserID:          42,
		AllottedMinutes: 60,
		Status:          status,
		CreatedAt:       parkedAt.Add(-10 * time.Minute),
		LastUpdate:      parkedAt.Add(-10 * time.Minute),
	}
}

func TestParkCreatesActiveSessionInCache(t *testing.T) {
	cache := newCacheFake()
	svc := newTestService(cache, &archiveFake{}, &issuerFake{})

	session, err := svc.Park(context.Background(), ParkInput{UserID: 42, Plate: " abc1234 ", Minutes: 60})
	require.NoError(t, err)

	assert.Equal(t, "ABC1234", session.Plate, "plate must be normalized")
	assert.Equal(t, models.StatusActive, session.Status)
	assert.Equal(t, parkedAt, session.CreatedAt)
	assert.Equal(t, parkedAt, session.LastUpdate)
	assert.Contains(t, cache.sessions, "ABC1234")
}

func TestParkRejectsDuplicateInCache(t *testing.T) {
	cache := newCacheFake(active("ABC1234", models.StatusActive))
	svc := newTestService(cache, &archiveFake{}, &issuerFake{})

	_, err := svc.Park(context.Background(), ParkInput{UserID: 42, Plate: "ABC1234", Minutes: 60})
	require.ErrorIs(t, err, ErrAlreadyParked)
}

func TestParkRejectsDuplicateInDurableStore(t *testing.T) {
	row := active("ABC1234", models.StatusActive)
	row.ID = 5
	row.Version = 2
	archive := &archiveFake{rows: []models.Session{row}, nextID: 5}
	svc := newTestService(newCacheFake(), archive, &issuerFake{})

	_, err := svc.Park(context.Background(), ParkInput{UserID: 42, Plate: "ABC1234", Minutes: 60})
	require.ErrorIs(t, err, ErrAlreadyParked)
}

func TestParkValidatesInput(t *testing.T) {
	svc := newTestService(newCacheFake(), &archiveFake{}, &issuerFake{})

	_, err := svc.Park(context.Background(), ParkInput{UserID: 42, Plate: "   ", Minutes: 60})
	require.Error(t, err)

	_, err = svc.Park(context.Background(), ParkInput{UserID: 42, Plate: "ABC1234", Minutes: 0})
	require.Error(t, err)
}

func TestUnparkCacheResidentSession(t *testing.T) {
	cache := newCacheFake(active("ABC1234", models.StatusActive))
	archive := &archiveFake{}
	issuer := &issuerFake{}
	svc := newTestService(cache, archive, issuer)

	receipt, err := svc.Unpark(context.Background(), "abc1234")
	require.NoError(t, err)
	assert.Equal(t, "ABC1234", receipt.Plate)

	assert.NotContains(t, cache.sessions, "ABC1234", "closed session must leave the cache")
	require.Len(t, archive.rows, 1)
	assert.Equal(t, models.StatusClosed, archive.rows[0].Status)
	assert.Equal(t, parkedAt, archive.rows[0].LastUpdate)
	require.Len(t, issuer.issued, 1)
	assert.Equal(t, models.StatusClosed, issuer.issued[0].Status)
}

func TestUnparkKeepsCacheWhenDurableSaveFails(t *testing.T) {
	cache := newCacheFake(active("ABC1234", models.StatusActive))
	archive := &archiveFake{saveErr: errors.New("db down")}
	issuer := &issuerFake{}
	svc := newTestService(cache, archive, issuer)

	_, err := svc.Unpark(context.Background(), "ABC1234")
	require.Error(t, err)

	assert.Contains(t, cache.sessions, "ABC1234", "cache copy must survive a failed durable write")
	assert.Empty(t, issuer.issued)
}

func TestUnparkDurableResidentSession(t *testing.T) {
	row := active("DEF5678", models.StatusActive)
	row.ID = 9
	row.Version = 3
	archive := &archiveFake{rows: []models.Session{row}, nextID: 9}
	issuer := &issuerFake{}
	svc := newTestService(newCacheFake(), archive, issuer)

	receipt, err := svc.Unpark(context.Background(), "DEF5678")
	require.NoError(t, err)
	assert.Equal(t, "DEF5678", receipt.Plate)

	assert.Equal(t, models.StatusClosed, archive.rows[0].Status)
	assert.Equal(t, int64(4), archive.rows[0].Version)
	require.Len(t, issuer.issued, 1)
}

func TestUnparkUnknownPlate(t *testing.T) {
	svc := newTestService(newCacheFake(), &archiveFake{}, &issuerFake{})

	_, err := svc.Unpark(context.Background(), "ZZZ9999")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFindSessionsByPlateSpansBothStores(t *testing.T) {
	cache := newCacheFake(active("ABC1234", models.StatusActive))
	closed := active("ABC1234", models.StatusClosed)
	closed.ID = 3
	closed.Version = 2
	archive := &archiveFake{rows: []models.Session{closed}, nextID: 3}
	svc := newTestService(cache, archive, &issuerFake{})

	sessions, err := svc.FindSessions(context.Background(), "abc1234", "")
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	sessions, err = svc.FindSessions(context.Background(), "abc1234", models.StatusClosed)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, models.StatusClosed, sessions[0].Status)
}

func TestFindSessionsDefaultsToActive(t *testing.T) {
	cache := newCacheFake(active("ABC1234", models.StatusActive))
	closed := active("DEF5678", models.StatusClosed)
	closed.ID = 1
	archive := &archiveFake{rows: []models.Session{closed}, nextID: 1}
	svc := newTestService(cache, archive, &issuerFake{})

	sessions, err := svc.FindSessions(context.Background(), "", "")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "ABC1234", sessions[0].Plate)
}
