package sweeper_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photo-orders-bot/internal/events"
	"photo-orders-bot/internal/memstore"
	"photo-orders-bot/internal/models"
	"photo-orders-bot/internal/session"
	"photo-orders-bot/internal/sweeper"
	"photo-orders-bot/internal/workflow"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingNotifier counts messages per chat.
type countingNotifier struct {
	mu     sync.Mutex
	nextID int
	texts  map[int64][]string
	down   bool
}

func (n *countingNotifier) setDown(down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down = down
}

func (n *countingNotifier) SendText(ctx context.Context, chatID int64, text string, controls *models.Controls) (models.MessageRef, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.down {
		return models.MessageRef{}, errors.New("telegram unreachable")
	}
	n.nextID++
	n.texts[chatID] = append(n.texts[chatID], text)
	return models.MessageRef{ChatID: chatID, MessageID: n.nextID}, nil
}

func (n *countingNotifier) EditText(ctx context.Context, ref models.MessageRef, text string, controls *models.Controls) error {
	return nil
}

func (n *countingNotifier) SendPhotoGroup(ctx context.Context, chatID int64, photoRefs []string, caption string) error {
	return nil
}

func (n *countingNotifier) AckCallback(ctx context.Context, callbackID, text string, alert bool) error {
	return nil
}

func (n *countingNotifier) SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) error {
	return nil
}

func (n *countingNotifier) reminders(chatID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, t := range n.texts[chatID] {
		if strings.HasPrefix(t, "⏰") {
			count++
		}
	}
	return count
}

type env struct {
	clock    *fakeClock
	store    *memstore.Store
	notifier *countingNotifier
	coord    *workflow.Coordinator
	sweeper  *sweeper.Sweeper
}

func newEnv(t *testing.T, marker sweeper.Marker, locker sweeper.Locker) *env {
	t.Helper()
	logger, _ := test.NewNullLogger()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := memstore.New(clock.Now)
	store.AddRequester(models.Requester{PlatformID: 100, Name: "Anna"})
	store.AddPerformer(models.Performer{PlatformID: 200, Name: "A", OrderPrice: decimal.NewFromInt(100)})
	store.AddPerformer(models.Performer{PlatformID: 300, Name: "B", OrderPrice: decimal.NewFromInt(100)})

	notifier := &countingNotifier{texts: make(map[int64][]string)}
	coord := workflow.NewCoordinator(store, notifier, session.NewTracker(time.Hour, clock.Now), events.NewLogPublisher(logger), logger, workflow.Options{
		Now:           clock.Now,
		WriteBackoffs: []time.Duration{0},
		EditBackoffs:  []time.Duration{0},
	})
	sw := sweeper.New(store, coord, marker, logger, sweeper.Options{
		Interval:  time.Minute,
		Threshold: 7 * time.Minute,
		Now:       clock.Now,
		Locker:    locker,
	})
	return &env{clock: clock, store: store, notifier: notifier, coord: coord, sweeper: sw}
}

func (e *env) submit(t *testing.T) int64 {
	t.Helper()
	res, err := e.coord.SubmitOrder(context.Background(), 100, "Fix alignment", []string{"p1"})
	require.NoError(t, err)
	return res.OrderID
}

func TestSweepOnce_RemindsOverdueOrderOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, sweeper.NewMemoryMarker(), nil)
	e.submit(t)

	e.clock.Advance(6 * time.Minute)
	n, err := e.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	e.clock.Advance(2 * time.Minute)
	for i := 0; i < 5; i++ {
		_, err := e.sweeper.SweepOnce(ctx)
		require.NoError(t, err)
		e.clock.Advance(time.Minute)
	}

	assert.Equal(t, 1, e.notifier.reminders(200))
	assert.Equal(t, 1, e.notifier.reminders(300))
}

func TestSweepOnce_RetriesUndeliveredReminder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, sweeper.NewMemoryMarker(), nil)
	e.submit(t)

	e.clock.Advance(8 * time.Minute)
	e.notifier.setDown(true)
	n, err := e.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, e.notifier.reminders(200))

	e.notifier.setDown(false)
	for i := 0; i < 3; i++ {
		e.clock.Advance(time.Minute)
		_, err := e.sweeper.SweepOnce(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, e.notifier.reminders(200))
	assert.Equal(t, 1, e.notifier.reminders(300))
}

func TestSweepOnce_RedisMarkerClearedWhenUndelivered(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := newEnv(t, sweeper.NewRedisMarker(rdb, 0), nil)
	id := e.submit(t)
	e.clock.Advance(8 * time.Minute)

	e.notifier.setDown(true)
	_, err := e.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.False(t, mr.Exists("orders:reminded:"+strconv.FormatInt(id, 10)))

	e.notifier.setDown(false)
	n, err := e.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, mr.Exists("orders:reminded:"+strconv.FormatInt(id, 10)))
}

// deadlineStore reports whether each listing ran under a deadline.
type deadlineStore struct {
	*memstore.Store
	seen chan bool
}

func (s *deadlineStore) ListOverdueUnclaimedOrders(ctx context.Context, createdBefore time.Time) ([]models.Order, error) {
	_, ok := ctx.Deadline()
	select {
	case s.seen <- ok:
	default:
	}
	return nil, nil
}

func TestRun_BoundsEachSweep(t *testing.T) {
	e := newEnv(t, sweeper.NewMemoryMarker(), nil)
	store := &deadlineStore{Store: e.store, seen: make(chan bool, 1)}
	logger, _ := test.NewNullLogger()
	sw := sweeper.New(store, e.coord, nil, logger, sweeper.Options{
		Interval: 5 * time.Millisecond,
		Timeout:  time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	select {
	case hasDeadline := <-store.seen:
		assert.True(t, hasDeadline)
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run")
	}
	cancel()
	<-done
}

func TestSweepOnce_SkipsClaimedOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, sweeper.NewMemoryMarker(), nil)
	id := e.submit(t)

	_, err := e.coord.ClaimOrder(ctx, 200, id)
	require.NoError(t, err)

	e.clock.Advance(10 * time.Minute)
	n, err := e.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, e.notifier.reminders(300))
}

// staleStore returns a listing taken before the order was claimed.
type staleStore struct {
	*memstore.Store
	snapshot []models.Order
}

func (s *staleStore) ListOverdueUnclaimedOrders(ctx context.Context, createdBefore time.Time) ([]models.Order, error) {
	return s.snapshot, nil
}

func TestSweepOnce_RereadsBeforeReminding(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, sweeper.NewMemoryMarker(), nil)
	id := e.submit(t)

	e.clock.Advance(10 * time.Minute)
	snapshot, err := e.store.ListOverdueUnclaimedOrders(ctx, e.clock.Now())
	require.NoError(t, err)
	require.Len(t, snapshot, 1)

	_, err = e.coord.ClaimOrder(ctx, 200, id)
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	sw := sweeper.New(&staleStore{Store: e.store, snapshot: snapshot}, e.coord, sweeper.NewMemoryMarker(), logger, sweeper.Options{Now: e.clock.Now})
	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, e.notifier.reminders(300))
}

func TestSweepOnce_RecoversSubmittedOrders(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, sweeper.NewMemoryMarker(), nil)

	id, err := e.store.CreateOrder(ctx, 1, "stranded", []string{"p1"})
	require.NoError(t, err)

	_, err = e.sweeper.SweepOnce(ctx)
	require.NoError(t, err)

	o, err := e.store.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingPerformer, o.Status)
}

func TestSweepOnce_RedisMarkerSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := newEnv(t, sweeper.NewRedisMarker(rdb, 0), nil)
	e.submit(t)
	e.clock.Advance(8 * time.Minute)

	n, err := e.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	logger, _ := test.NewNullLogger()
	restarted := sweeper.New(e.store, e.coord, sweeper.NewRedisMarker(rdb, 0), logger, sweeper.Options{Now: e.clock.Now})
	n, err = restarted.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, e.notifier.reminders(200))
}

func TestSweepOnce_SkipsWhileLockHeld(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	other := sweeper.NewRedisLocker(rdb, "other-instance")
	release, err := other.Obtain(ctx, "orders:sweeper", time.Minute)
	require.NoError(t, err)

	e := newEnv(t, sweeper.NewMemoryMarker(), sweeper.NewRedisLocker(rdb, "this-instance"))
	e.submit(t)
	e.clock.Advance(8 * time.Minute)

	n, err := e.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, release(ctx))
	n, err = e.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisMarker(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	m := sweeper.NewRedisMarker(rdb, time.Hour)
	first, err := m.MarkReminded(ctx, 42)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := m.MarkReminded(ctx, 42)
	require.NoError(t, err)
	assert.False(t, again)

	assert.Equal(t, time.Hour, mr.TTL("orders:reminded:42"))

	mr.FastForward(2 * time.Hour)
	first, err = m.MarkReminded(ctx, 42)
	require.NoError(t, err)
	assert.True(t, first)

	require.NoError(t, m.Unmark(ctx, 42))
	assert.False(t, mr.Exists("orders:reminded:42"))
	first, err = m.MarkReminded(ctx, 42)
	require.NoError(t, err)
	assert.True(t, first)
}

func TestMemoryMarker_Unmark(t *testing.T) {
	ctx := context.Background()
	m := sweeper.NewMemoryMarker()

	first, err := m.MarkReminded(ctx, 7)
	require.NoError(t, err)
	assert.True(t, first)

	require.NoError(t, m.Unmark(ctx, 7))
	first, err = m.MarkReminded(ctx, 7)
	require.NoError(t, err)
	assert.True(t, first)
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	a := sweeper.NewRedisLocker(rdb, "a")
	b := sweeper.NewRedisLocker(rdb, "b")

	release, err := a.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = b.Obtain(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, sweeper.ErrLockHeld)

	require.NoError(t, release(ctx))
	_, err = b.Obtain(ctx, "k", time.Minute)
	assert.NoError(t, err)
}

func TestWaitFor_RetriesUntilPingSucceeds(t *testing.T) {
	logger, hook := test.NewNullLogger()
	calls := 0
	ping := func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	err := sweeper.WaitFor(context.Background(), "store", ping, sweeper.Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond}, logger)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Message == "connection failed" {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestWaitFor_StopsOnContextCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	ping := func(ctx context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("connection refused")
	}

	err := sweeper.WaitFor(ctx, "store", ping, sweeper.Backoff{Base: time.Millisecond, Max: time.Millisecond}, logger)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	logger, _ := test.NewNullLogger()

	rdb, err := sweeper.ConnectRedis(context.Background(), mr.Addr(), sweeper.DefaultBackoff, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	assert.NoError(t, rdb.Ping(context.Background()).Err())
}
