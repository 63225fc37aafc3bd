package reconciler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parkgate/internal/billing"
	"parkgate/internal/models"
	"parkgate/internal/repository"
)

var t0 = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeCache struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	findErr  error
}

func newFakeCache(sessions ...models.Session) *fakeCache {
	c := &fakeCache{sessions: make(map[string]models.Session)}
	for _, s := range sessions {
		c.sessions[s.Plate] = s
	}
	return c
}

func (c *fakeCache) FindByStatus(_ context.Context, status models.Status) ([]models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.findErr != nil {
		return nil, c.findErr
	}
	var matched []models.Session
	for _, s := range c.sessions {
		if s.Status == status {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

func (c *fakeCache) FindAll(_ context.Context) ([]models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.findErr != nil {
		return nil, c.findErr
	}
	var all []models.Session
	for _, s := range c.sessions {
		all = append(all, s)
	}
	return all, nil
}

func (c *fakeCache) Save(_ context.Context, session *models.Session) (*models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[session.Plate] = *session
	return session, nil
}

// Delete mirrors redis DEL: removing an absent plate succeeds.
func (c *fakeCache) Delete(_ context.Context, plate string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, plate)
	return nil
}

func (c *fakeCache) DeleteAll(_ context.Context, plates []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, plate := range plates {
		delete(c.sessions, plate)
	}
	return nil
}

func (c *fakeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

type fakeDurable struct {
	mu           sync.Mutex
	rows         []models.Session
	nextID       int64
	saveErr      error
	conflictNext bool
	saveAllCalls int
}

func (d *fakeDurable) FindByStatus(_ context.Context, status models.Status) ([]models.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var matched []models.Session
	for _, s := range d.rows {
		if s.Status == status {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

func (d *fakeDurable) Save(_ context.Context, session *models.Session) (*models.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.saveErr != nil {
		return nil, d.saveErr
	}
	if d.conflictNext {
		d.conflictNext = false
		return nil, repository.ErrVersionConflict
	}
	if session.ID == 0 {
		d.nextID++
		session.ID = d.nextID
		session.Version = 1
		d.rows = append(d.rows, *session)
		return session, nil
	}
	for i := range d.rows {
		if d.rows[i].ID == session.ID {
			if d.rows[i].Version != session.Version {
				return nil, repository.ErrVersionConflict
			}
			session.Version++
			d.rows[i] = *session
			return session, nil
		}
	}
	return nil, repository.ErrVersionConflict
}

func (d *fakeDurable) SaveAll(_ context.Context, sessions []models.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saveAllCalls++
	if d.saveErr != nil {
		return d.saveErr
	}
	for _, s := range sessions {
		d.nextID++
		s.ID = d.nextID
		s.Version = 1
		d.rows = append(d.rows, s)
	}
	return nil
}

func (d *fakeDurable) Delete(_ context.Context, plate string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.rows[:0]
	for _, s := range d.rows {
		if s.Plate != plate {
			kept = append(kept, s)
		}
	}
	d.rows = kept
	return nil
}

func (d *fakeDurable) byPlate(plate string) (models.Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.rows {
		if s.Plate == plate {
			return s, true
		}
	}
	return models.Session{}, false
}

type fakeSink struct {
	mu       sync.Mutex
	receipts []models.Receipt
	err      error
}

func (f *fakeSink) Save(_ context.Context, receipt *models.Receipt) (*models.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.receipts = append(f.receipts, *receipt)
	return receipt, nil
}

func (f *fakeSink) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.receipts)
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakePublisher) Publish(_ context.Context, payload any, template string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := payload.(models.Session); ok {
		f.messages = append(f.messages, strings.Replace(template, "%s", s.Plate, 1))
		return
	}
	f.messages = append(f.messages, template)
}

func (f *fakePublisher) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func activeSession(plate string, parkedAt time.Time, minutes int64) models.Session {
	return models.Session{
		Plate:           plate,
		UserID:          42,
		AllottedMinutes: minutes,
		Status:          models.StatusActive,
		CreatedAt:       parkedAt,
		LastUpdate:      parkedAt,
	}
}

func newTestEngine(cache *fakeCache, durable *fakeDurable, sink *fakeSink, publisher *fakePublisher, now time.Time) *Engine {
	biller := billing.NewBiller(sink, publisher, decimal.RequireFromString("0.16"), zap.NewNop())
	engine := NewEngine(cache, durable, biller, publisher, Config{
		WarningWindow: 5 * time.Minute,
		Concurrency:   4,
	}, zap.NewNop())
	engine.now = func() time.Time { return now }
	return engine
}

func TestSynchronizeStatusClosesExpiredCacheSession(t *testing.T) {
	cache := newFakeCache(activeSession("ABC1234", t0, 60))
	durable := &fakeDurable{}
	sink := &fakeSink{}
	publisher := &fakePublisher{}
	engine := newTestEngine(cache, durable, sink, publisher, t0.Add(61*time.Minute))

	require.NoError(t, engine.SynchronizeStatus(context.Background()))

	assert.Equal(t, 0, cache.len(), "expired session must leave the cache")

	saved, ok := durable.byPlate("ABC1234")
	require.True(t, ok, "expired session must land in durable storage")
	assert.Equal(t, models.StatusClosed, saved.Status)
	assert.Equal(t, t0.Add(61*time.Minute), saved.LastUpdate)
	assert.Equal(t, int64(1), saved.Version)

	require.Equal(t, 1, sink.len())
	receipt := sink.receipts[0]
	assert.Equal(t, 61*time.Minute, receipt.Elapsed())
	assert.True(t, receipt.Total.Equal(decimal.RequireFromString("9.76")), "got %s", receipt.Total)
}

func TestSynchronizeStatusLeavesUnexpiredAlone(t *testing.T) {
	cache := newFakeCache(activeSession("ABC1234", t0, 60))
	durable := &fakeDurable{}
	sink := &fakeSink{}
	engine := newTestEngine(cache, durable, sink, &fakePublisher{}, t0.Add(59*time.Minute))

	require.NoError(t, engine.SynchronizeStatus(context.Background()))

	assert.Equal(t, 1, cache.len())
	_, ok := durable.byPlate("ABC1234")
	assert.False(t, ok)
	assert.Equal(t, 0, sink.len())
}

func TestSynchronizeStatusKeepsCacheWhenDurableSaveFails(t *testing.T) {
	cache := newFakeCache(activeSession("ABC1234", t0, 60))
	durable := &fakeDurable{saveErr: errors.New("connection refused")}
	sink := &fakeSink{}
	engine := newTestEngine(cache, durable, sink, &fakePublisher{}, t0.Add(61*time.Minute))

	require.NoError(t, engine.SynchronizeStatus(context.Background()))

	// durable write failed, so the cache copy must survive for the next tick
	assert.Equal(t, 1, cache.len())
	assert.Equal(t, 0, sink.len(), "no receipt without a durable close")
}

func TestSynchronizeStatusProducesExactlyOneReceipt(t *testing.T) {
	cache := newFakeCache(activeSession("ABC1234", t0, 60))
	durable := &fakeDurable{}
	sink := &fakeSink{}
	engine := newTestEngine(cache, durable, sink, &fakePublisher{}, t0.Add(61*time.Minute))

	require.NoError(t, engine.SynchronizeStatus(context.Background()))
	// second tick: session is CLOSED in durable, gone from cache
	require.NoError(t, engine.SynchronizeStatus(context.Background()))

	assert.Equal(t, 1, sink.len())
}

func TestSynchronizeStatusClosesExpiredDurableSession(t *testing.T) {
	session := activeSession("DEF5678", t0, 30)
	session.ID = 9
	session.Version = 3
	durable := &fakeDurable{rows: []models.Session{session}, nextID: 9}
	sink := &fakeSink{}
	engine := newTestEngine(newFakeCache(), durable, sink, &fakePublisher{}, t0.Add(31*time.Minute))

	require.NoError(t, engine.SynchronizeStatus(context.Background()))

	saved, ok := durable.byPlate("DEF5678")
	require.True(t, ok)
	assert.Equal(t, models.StatusClosed, saved.Status)
	assert.Equal(t, int64(4), saved.Version, "closing write must bump the version")
	assert.Equal(t, 1, sink.len())
}

func TestSynchronizeStatusSkipsConflictedDurableSession(t *testing.T) {
	session := activeSession("DEF5678", t0, 30)
	session.ID = 9
	session.Version = 3
	durable := &fakeDurable{rows: []models.Session{session}, nextID: 9, conflictNext: true}
	sink := &fakeSink{}
	engine := newTestEngine(newFakeCache(), durable, sink, &fakePublisher{}, t0.Add(31*time.Minute))

	require.NoError(t, engine.SynchronizeStatus(context.Background()))

	assert.Equal(t, 0, sink.len(), "a conflicted close must not bill")
}

func TestSynchronizeCacheDrainsEverything(t *testing.T) {
	cache := newFakeCache(
		activeSession("AAA0001", t0, 60),
		activeSession("BBB0002", t0, 90),
		activeSession("CCC0003", t0, 120),
	)
	durable := &fakeDurable{}
	sink := &fakeSink{}
	engine := newTestEngine(cache, durable, sink, &fakePublisher{}, t0.Add(time.Minute))

	require.NoError(t, engine.SynchronizeCache(context.Background()))

	assert.Equal(t, 0, cache.len(), "full sync must empty the cache")
	for _, plate := range []string{"AAA0001", "BBB0002", "CCC0003"} {
		saved, ok := durable.byPlate(plate)
		require.True(t, ok, "plate %s missing from durable store", plate)
		assert.Equal(t, models.StatusActive, saved.Status, "full sync must preserve status")
	}
	assert.Equal(t, 0, sink.len(), "full sync is not a closure event")
}

func TestSynchronizeCacheEmptyIsNoop(t *testing.T) {
	durable := &fakeDurable{}
	engine := newTestEngine(newFakeCache(), durable, &fakeSink{}, &fakePublisher{}, t0)

	require.NoError(t, engine.SynchronizeCache(context.Background()))

	assert.Equal(t, 0, durable.saveAllCalls, "empty cache must not touch durable storage")
}

func TestSynchronizeCacheKeepsCacheOnBatchFailure(t *testing.T) {
	cache := newFakeCache(activeSession("AAA0001", t0, 60))
	durable := &fakeDurable{saveErr: errors.New("tx aborted")}
	engine := newTestEngine(cache, durable, &fakeSink{}, &fakePublisher{}, t0)

	err := engine.SynchronizeCache(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, cache.len(), "failed batch must not drain the cache")
}

func TestWarningSweepNotifiesNearExpiryInBothStores(t *testing.T) {
	nearExpiry := activeSession("AAA0001", t0, 60) // 4 minutes remaining at t0+56m
	fresh := activeSession("BBB0002", t0, 240)
	cache := newFakeCache(nearExpiry, fresh)

	durableNear := activeSession("CCC0003", t0, 60)
	durableNear.ID = 1
	durableNear.Version = 1
	durable := &fakeDurable{rows: []models.Session{durableNear}, nextID: 1}

	publisher := &fakePublisher{}
	engine := newTestEngine(cache, durable, &fakeSink{}, publisher, t0.Add(56*time.Minute))

	require.NoError(t, engine.WarningSweep(context.Background()))

	require.Equal(t, 2, publisher.len())
	joined := strings.Join(publisher.messages, "\n")
	assert.Contains(t, joined, "AAA0001")
	assert.Contains(t, joined, "CCC0003")
	assert.NotContains(t, joined, "BBB0002")
	assert.Equal(t, 2, cache.len(), "warning sweep must not mutate the cache")
}

func TestCacheDeleteIsIdempotentAcrossJobs(t *testing.T) {
	// Job C drained the plate first; Job B's later delete must be a no-op.
	cache := newFakeCache(activeSession("AAA0001", t0, 60))
	require.NoError(t, cache.Delete(context.Background(), "AAA0001"))
	require.NoError(t, cache.Delete(context.Background(), "AAA0001"))
}
