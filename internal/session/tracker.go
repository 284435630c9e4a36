package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"photo-orders-bot/internal/models"
)

var (
	ErrNoSession       = errors.New("no active session")
	ErrUnexpectedInput = errors.New("input not expected right now")
	ErrPhotoLimit      = errors.New("photo limit reached")
)

// Kind is the input a session currently expects.
type Kind string

const (
	KindOrderDescription Kind = "order_description"
	KindOrderPhotos      Kind = "order_photos"
	KindResultPhotos     Kind = "result_photos"
	KindRevisionPhotos   Kind = "revision_photos"
	KindDeclineReason    Kind = "decline_reason"
	KindRevisionComment  Kind = "revision_comment"
)

// PhotoLimit returns the photo cap for a kind, or 0 when the kind takes no photos.
func (k Kind) PhotoLimit() int {
	switch k {
	case KindOrderPhotos:
		return models.MaxOrderPhotos
	case KindResultPhotos, KindRevisionPhotos:
		return models.MaxResultPhotos
	}
	return 0
}

func (k Kind) TakesText() bool {
	switch k {
	case KindOrderDescription, KindDeclineReason, KindRevisionComment:
		return true
	}
	return false
}

type Session struct {
	ActorID   int64
	OrderID   int64
	Kind      Kind
	Text      string
	Photos    []string
	StartedAt time.Time
	TouchedAt time.Time
}

// Tracker holds at most one session per actor.
type Tracker struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	ttl      time.Duration
	now      func() time.Time
}

func NewTracker(ttl time.Duration, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		sessions: make(map[int64]*Session),
		ttl:      ttl,
		now:      now,
	}
}

// Begin opens a session, replacing whatever the actor had before.
func (t *Tracker) Begin(actorID, orderID int64, kind Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sessions[actorID] = &Session{
		ActorID:   actorID,
		OrderID:   orderID,
		Kind:      kind,
		StartedAt: now,
		TouchedAt: now,
	}
}

// Advance switches the expected input while keeping collected data.
func (t *Tracker) Advance(actorID int64, kind Kind) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[actorID]
	if !ok {
		return ErrNoSession
	}
	s.Kind = kind
	s.TouchedAt = t.now()
	return nil
}

// AddPhoto appends a photo and returns the running count. Once the cap is
// reached further photos are rejected and the collected set is kept.
func (t *Tracker) AddPhoto(actorID int64, mediaRef string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[actorID]
	if !ok {
		return 0, ErrUnexpectedInput
	}
	limit := s.Kind.PhotoLimit()
	if limit == 0 {
		return 0, ErrUnexpectedInput
	}
	if len(s.Photos) >= limit {
		return len(s.Photos), ErrPhotoLimit
	}
	s.Photos = append(s.Photos, mediaRef)
	s.TouchedAt = t.now()
	return len(s.Photos), nil
}

func (t *Tracker) SetText(actorID int64, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[actorID]
	if !ok || !s.Kind.TakesText() {
		return ErrUnexpectedInput
	}
	s.Text = text
	s.TouchedAt = t.now()
	return nil
}

// Data returns a copy of the actor's session.
func (t *Tracker) Data(actorID int64) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[actorID]
	if !ok {
		return Session{}, false
	}
	out := *s
	out.Photos = append([]string(nil), s.Photos...)
	return out, true
}

func (t *Tracker) End(actorID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, actorID)
}

// Expire drops sessions idle for longer than the TTL and returns how many went.
func (t *Tracker) Expire(now time.Time) int {
	if t.ttl <= 0 {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for id, s := range t.sessions {
		if now.Sub(s.TouchedAt) > t.ttl {
			delete(t.sessions, id)
			n++
		}
	}
	return n
}

// Run expires idle sessions every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, logger logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Expire(t.now()); n > 0 {
				logger.WithField("expired", n).Info("expired idle sessions")
			}
		}
	}
}
