package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"photo-orders-bot/internal/events"
	"photo-orders-bot/internal/memstore"
	"photo-orders-bot/internal/models"
	"photo-orders-bot/internal/session"
	"photo-orders-bot/internal/workflow"
)

const (
	requesterChat = int64(100)
	performerA    = int64(200)
	performerB    = int64(300)
	strangerChat  = int64(400)
	adminChat     = int64(900)
)

type sentMessage struct {
	ChatID   int64
	Text     string
	Controls *models.Controls
	Ref      models.MessageRef
}

type photoGroup struct {
	ChatID  int64
	Photos  []string
	Caption string
}

type callbackAck struct {
	ID    string
	Text  string
	Alert bool
}

type document struct {
	ChatID int64
	Name   string
	Data   []byte
}

type fakeNotifier struct {
	mu        sync.Mutex
	nextID    int
	sent      []sentMessage
	current   map[models.MessageRef]sentMessage
	editCalls map[models.MessageRef]int
	groups    []photoGroup
	acks      []callbackAck
	docs      []document
	failEdits map[int64]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		current:   make(map[models.MessageRef]sentMessage),
		editCalls: make(map[models.MessageRef]int),
		failEdits: make(map[int64]bool),
	}
}

func (f *fakeNotifier) SendText(ctx context.Context, chatID int64, text string, controls *models.Controls) (models.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	ref := models.MessageRef{ChatID: chatID, MessageID: f.nextID}
	msg := sentMessage{ChatID: chatID, Text: text, Controls: controls, Ref: ref}
	f.sent = append(f.sent, msg)
	f.current[ref] = msg
	return ref, nil
}

func (f *fakeNotifier) EditText(ctx context.Context, ref models.MessageRef, text string, controls *models.Controls) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.editCalls[ref]++
	if f.failEdits[ref.ChatID] {
		return errors.New("bad gateway")
	}
	f.current[ref] = sentMessage{ChatID: ref.ChatID, Text: text, Controls: controls, Ref: ref}
	return nil
}

func (f *fakeNotifier) SendPhotoGroup(ctx context.Context, chatID int64, photoRefs []string, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, photoGroup{ChatID: chatID, Photos: append([]string(nil), photoRefs...), Caption: caption})
	return nil
}

func (f *fakeNotifier) AckCallback(ctx context.Context, callbackID, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, callbackAck{ID: callbackID, Text: text, Alert: alert})
	return nil
}

func (f *fakeNotifier) SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, document{ChatID: chatID, Name: name, Data: data})
	return nil
}

// messagesTo returns everything sent to a chat, oldest first.
func (f *fakeNotifier) messagesTo(chatID int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeNotifier) lastTo(chatID int64) sentMessage {
	msgs := f.messagesTo(chatID)
	if len(msgs) == 0 {
		return sentMessage{}
	}
	return msgs[len(msgs)-1]
}

func (f *fakeNotifier) currentText(ref models.MessageRef) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current[ref].Text
}

func (f *fakeNotifier) groupsTo(chatID int64) []photoGroup {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []photoGroup
	for _, g := range f.groups {
		if g.ChatID == chatID {
			out = append(out, g)
		}
	}
	return out
}

func (f *fakeNotifier) ackList() []callbackAck {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]callbackAck(nil), f.acks...)
}

// flakyStore fails the next TryTransition calls. With commitFirst the write
// lands before the error is returned, as with a lost acknowledgement.
type flakyStore struct {
	*memstore.Store
	mu          sync.Mutex
	failures    int
	commitFirst bool
}

func (f *flakyStore) TryTransition(ctx context.Context, orderID int64, expected, next models.Status, m models.Mutation) (bool, error) {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	if fail {
		if f.commitFirst {
			_, _ = f.Store.TryTransition(ctx, orderID, expected, next, m)
		}
		return false, errors.New("connection reset by peer")
	}
	return f.Store.TryTransition(ctx, orderID, expected, next, m)
}

type fixture struct {
	store    *memstore.Store
	notifier *fakeNotifier
	sessions *session.Tracker
	coord    *workflow.Coordinator

	requesterID int64
	performerA  int64
	performerB  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New(nil)
	f := &fixture{
		store:    store,
		notifier: newFakeNotifier(),
	}
	f.requesterID = store.AddRequester(models.Requester{PlatformID: requesterChat, Name: "Anna", Surname: "Petrova"})
	store.AddRequester(models.Requester{PlatformID: strangerChat, Name: "Boris"})
	f.performerA = store.AddPerformer(models.Performer{PlatformID: performerA, Name: "A", OrderPrice: decimal.NewFromInt(100)})
	f.performerB = store.AddPerformer(models.Performer{PlatformID: performerB, Name: "B", OrderPrice: decimal.NewFromInt(120)})
	f.coord = f.newCoordinator(store)
	return f
}

// newCoordinator builds a coordinator with a fresh session tracker, the way a
// restarted process would.
func (f *fixture) newCoordinator(store workflow.Store) *workflow.Coordinator {
	return f.coordinatorWith(store, session.NewTracker(24*time.Hour, nil))
}

func (f *fixture) coordinatorWith(store workflow.Store, sessions *session.Tracker) *workflow.Coordinator {
	logger, _ := test.NewNullLogger()
	f.sessions = sessions
	return workflow.NewCoordinator(store, f.notifier, sessions, events.NewLogPublisher(logger), logger, workflow.Options{
		AdminChats:    []int64{adminChat},
		WriteBackoffs: []time.Duration{0},
		EditBackoffs:  []time.Duration{0},
	})
}

func (f *fixture) order(t *testing.T, id int64) *models.Order {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	require.True(t, o.PerformerConsistent(), "performer id must match status %s", o.Status)
	return o
}

// submitted creates an order that is waiting for a performer.
func (f *fixture) submitted(t *testing.T) int64 {
	t.Helper()
	res, err := f.coord.SubmitOrder(context.Background(), requesterChat, "Fix alignment", []string{"p1", "p2"})
	require.NoError(t, err)
	require.Equal(t, models.StatusAwaitingPerformer, res.Status)
	return res.OrderID
}

// inReview moves a fresh order to awaiting review with performer A.
func (f *fixture) inReview(t *testing.T) int64 {
	t.Helper()
	ctx := context.Background()
	id := f.submitted(t)
	_, err := f.coord.ClaimOrder(ctx, performerA, id)
	require.NoError(t, err)
	_, err = f.coord.SubmitResult(ctx, performerA, id, []string{"r1"})
	require.NoError(t, err)
	return id
}

func payloads(c *models.Controls) []string {
	if c == nil {
		return nil
	}
	var out []string
	for _, row := range c.Inline {
		for _, b := range row {
			out = append(out, b.Payload)
		}
	}
	return out
}
