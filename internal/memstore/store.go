// Package memstore is an in-process order store with the same
// compare-and-set semantics as the Postgres store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"photo-orders-bot/internal/models"
)

type Store struct {
	mu sync.Mutex

	now func() time.Time

	requesters map[int64]*models.Requester
	performers map[int64]*models.Performer
	orders     map[int64]*models.Order
	photos     map[int64][]models.OrderPhoto
	messages   map[int64][]models.MessageIndex
	pending    map[int64]models.PendingInteraction

	nextRequester int64
	nextPerformer int64
	nextOrder     int64
}

func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:        now,
		requesters: make(map[int64]*models.Requester),
		performers: make(map[int64]*models.Performer),
		orders:     make(map[int64]*models.Order),
		photos:     make(map[int64][]models.OrderPhoto),
		messages:   make(map[int64][]models.MessageIndex),
		pending:    make(map[int64]models.PendingInteraction),
	}
}

// AddRequester registers a requester and returns its id.
func (s *Store) AddRequester(r models.Requester) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRequester++
	r.ID = s.nextRequester
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.requesters[r.ID] = &r
	return r.ID
}

// AddPerformer registers a performer and returns its id.
func (s *Store) AddPerformer(p models.Performer) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPerformer++
	p.ID = s.nextPerformer
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.performers[p.ID] = &p
	return p.ID
}

func (s *Store) SetBanned(requesterID int64, banned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.requesters[requesterID]; ok {
		r.Banned = banned
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) ResolveActor(ctx context.Context, platformID int64) (models.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.requesters {
		if r.PlatformID == platformID {
			return models.Actor{PlatformID: platformID, Role: models.RoleRequester, ID: r.ID, Name: r.FullName(), Banned: r.Banned}, nil
		}
	}
	for _, p := range s.performers {
		if p.PlatformID == platformID {
			return models.Actor{PlatformID: platformID, Role: models.RolePerformer, ID: p.ID, Name: p.Name}, nil
		}
	}
	return models.Actor{PlatformID: platformID, Role: models.RoleUnknown}, nil
}

func (s *Store) GetRequester(ctx context.Context, id int64) (*models.Requester, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requesters[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *r
	return &out, nil
}

func (s *Store) GetPerformer(ctx context.Context, id int64) (*models.Performer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.performers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *Store) ListPerformers(ctx context.Context) ([]models.Performer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Performer, 0, len(s.performers))
	for _, p := range s.performers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateOrder(ctx context.Context, requesterID int64, description string, photoRefs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requesters[requesterID]; !ok {
		return 0, fmt.Errorf("failed to create order: requester %d: %w", requesterID, models.ErrNotFound)
	}

	s.nextOrder++
	now := s.now()
	o := &models.Order{
		ID:          s.nextOrder,
		Description: description,
		Status:      models.StatusSubmitted,
		RequesterID: requesterID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.orders[o.ID] = o
	s.appendPhotosLocked(o.ID, models.RoundSubmission, photoRefs)
	return o.ID, nil
}

func (s *Store) TryTransition(ctx context.Context, orderID int64, expected, next models.Status, m models.Mutation) (bool, error) {
	if err := models.ValidateTransition(expected, next); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return false, models.ErrNotFound
	}
	if o.Status != expected {
		return false, nil
	}
	if m.ExclusivePerformer && m.PerformerID != nil {
		if s.countInProgressLocked(*m.PerformerID) > 0 {
			return false, models.ErrPerformerBusy
		}
	}

	updated := *o
	m.Apply(&updated)
	updated.Status = next
	if !updated.PerformerConsistent() {
		return false, fmt.Errorf("failed to update order %d: performer id does not match status %s", orderID, next)
	}
	updated.UpdatedAt = s.now()
	*o = updated

	if len(m.AppendPhotos) > 0 {
		s.appendPhotosLocked(orderID, s.nextRoundLocked(orderID), m.AppendPhotos)
	}
	return true, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *o
	return &out, nil
}

func (s *Store) ListOrderPhotos(ctx context.Context, orderID int64) ([]models.OrderPhoto, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OrderPhoto(nil), s.photos[orderID]...), nil
}

func (s *Store) ListOrdersByStatus(ctx context.Context, status models.Status) ([]models.Order, error) {
	return s.filterOrders(func(o *models.Order) bool { return o.Status == status }), nil
}

func (s *Store) ListRequesterOrders(ctx context.Context, requesterID int64, status models.Status) ([]models.Order, error) {
	return s.filterOrders(func(o *models.Order) bool {
		return o.RequesterID == requesterID && o.Status == status
	}), nil
}

func (s *Store) ListOverdueUnclaimedOrders(ctx context.Context, createdBefore time.Time) ([]models.Order, error) {
	return s.filterOrders(func(o *models.Order) bool {
		return o.Status == models.StatusAwaitingPerformer && o.CreatedAt.Before(createdBefore)
	}), nil
}

func (s *Store) CountActiveOrdersForPerformer(ctx context.Context, performerID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countInProgressLocked(performerID), nil
}

func (s *Store) ListMessageIndices(ctx context.Context, orderID int64) ([]models.MessageIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MessageIndex(nil), s.messages[orderID]...), nil
}

// RecordMessageIndex keeps the first message recorded for an (order, performer) pair.
func (s *Store) RecordMessageIndex(ctx context.Context, orderID, performerID int64, ref models.MessageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, mi := range s.messages[orderID] {
		if mi.PerformerID == performerID {
			return nil
		}
	}
	s.messages[orderID] = append(s.messages[orderID], models.MessageIndex{
		OrderID:     orderID,
		PerformerID: performerID,
		Ref:         ref,
	})
	return nil
}

func (s *Store) UpsertPendingInteraction(ctx context.Context, p models.PendingInteraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.pending[p.OrderID] = p
	return nil
}

func (s *Store) GetPendingInteraction(ctx context.Context, orderID int64) (*models.PendingInteraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &p, nil
}

func (s *Store) DeletePendingInteraction(ctx context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, orderID)
	return nil
}

func (s *Store) ListCompletedForReport(ctx context.Context) ([]models.ReportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []models.ReportRow
	for _, o := range s.orders {
		if o.Status != models.StatusCompleted || !o.PerformerID.Valid {
			continue
		}
		r, rok := s.requesters[o.RequesterID]
		p, pok := s.performers[o.PerformerID.Int64]
		if !rok || !pok {
			continue
		}
		rows = append(rows, models.ReportRow{
			OrderID:             o.ID,
			CreatedAt:           o.CreatedAt,
			ResultPhotoCount:    o.ResultPhotoCount,
			RequesterID:         r.ID,
			RequesterPlatformID: r.PlatformID,
			RequesterName:       r.Name,
			RequesterSurname:    r.Surname,
			RequesterAddress:    r.Address,
			PerformerID:         p.ID,
			PerformerName:       p.Name,
			OrderPrice:          p.OrderPrice,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].OrderID < rows[j].OrderID })
	return rows, nil
}

func (s *Store) filterOrders(keep func(o *models.Order) bool) []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Order
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) countInProgressLocked(performerID int64) int {
	n := 0
	for _, o := range s.orders {
		if o.Status == models.StatusInProgress && o.PerformerID.Valid && o.PerformerID.Int64 == performerID {
			n++
		}
	}
	return n
}

func (s *Store) nextRoundLocked(orderID int64) int {
	round := models.RoundSubmission
	for _, p := range s.photos[orderID] {
		if p.Round > round {
			round = p.Round
		}
	}
	return round + 1
}

func (s *Store) appendPhotosLocked(orderID int64, round int, refs []string) {
	seq := len(s.photos[orderID])
	for _, ref := range refs {
		seq++
		s.photos[orderID] = append(s.photos[orderID], models.OrderPhoto{
			OrderID:  orderID,
			Seq:      seq,
			Round:    round,
			MediaRef: ref,
		})
	}
}
