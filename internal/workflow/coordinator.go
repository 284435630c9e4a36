package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"photo-orders-bot/internal/config"
	"photo-orders-bot/internal/events"
	"photo-orders-bot/internal/models"
	"photo-orders-bot/internal/retry"
	"photo-orders-bot/internal/session"
)

const (
	moduleName    = "workflow"
	writeAttempts = 2
)

// DefaultWriteBackoffs is the pause before the single retry of a status write.
var DefaultWriteBackoffs = []time.Duration{500 * time.Millisecond}

type Options struct {
	AdminChats    []int64
	Now           func() time.Time
	WriteBackoffs []time.Duration
	EditBackoffs  []time.Duration
}

// Result describes a committed transition.
type Result struct {
	OrderID int64
	Status  models.Status
	Fanout  FanoutReport
}

// Coordinator applies order transitions and keeps every party's messages in
// step with the stored status.
type Coordinator struct {
	store     Store
	notifier  Notifier
	sessions  *session.Tracker
	publisher events.Publisher
	logger    logrus.FieldLogger

	adminChats    []int64
	now           func() time.Time
	writeBackoffs []time.Duration
	editBackoffs  []time.Duration
}

func NewCoordinator(store Store, notifier Notifier, sessions *session.Tracker, publisher events.Publisher, logger logrus.FieldLogger, opts Options) *Coordinator {
	c := &Coordinator{
		store:         store,
		notifier:      notifier,
		sessions:      sessions,
		publisher:     publisher,
		logger:        logger.WithField("module", moduleName),
		adminChats:    opts.AdminChats,
		now:           opts.Now,
		writeBackoffs: opts.WriteBackoffs,
		editBackoffs:  opts.EditBackoffs,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.writeBackoffs == nil {
		c.writeBackoffs = DefaultWriteBackoffs
	}
	if c.editBackoffs == nil {
		c.editBackoffs = DefaultEditBackoffs
	}
	return c
}

// Sessions exposes the tracker shared with the dispatcher.
func (c *Coordinator) Sessions() *session.Tracker {
	return c.sessions
}

func (c *Coordinator) resolve(ctx context.Context, platformID int64) (models.Actor, error) {
	actor, err := c.store.ResolveActor(ctx, platformID)
	if err != nil {
		return models.Actor{}, storeUnavailable("resolve actor", err)
	}
	if actor.Role == models.RoleUnknown {
		return actor, denied(textNotRegistered)
	}
	return actor, nil
}

func (c *Coordinator) requester(ctx context.Context, platformID int64) (models.Actor, error) {
	actor, err := c.resolve(ctx, platformID)
	if err != nil {
		return actor, err
	}
	if actor.Role != models.RoleRequester {
		return actor, denied(textRequesterOnly)
	}
	if actor.Banned {
		return actor, denied(textBanned)
	}
	return actor, nil
}

func (c *Coordinator) performer(ctx context.Context, platformID int64) (models.Actor, error) {
	actor, err := c.resolve(ctx, platformID)
	if err != nil {
		return actor, err
	}
	if actor.Role != models.RolePerformer {
		return actor, denied(textPerformerOnly)
	}
	return actor, nil
}

func (c *Coordinator) loadOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	o, err := c.store.GetOrder(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, invalidTransition(fmt.Sprintf("⚠️ Order #%d does not exist.", orderID))
	}
	if err != nil {
		return nil, storeUnavailable("get order", err)
	}
	return o, nil
}

func (c *Coordinator) ownedOrder(ctx context.Context, actor models.Actor, orderID int64) (*models.Order, error) {
	o, err := c.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.RequesterID != actor.ID {
		return nil, denied(textNotYourOrder)
	}
	return o, nil
}

func (c *Coordinator) assignedOrder(ctx context.Context, actor models.Actor, orderID int64) (*models.Order, error) {
	o, err := c.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.PerformerID.Valid || o.PerformerID.Int64 != actor.ID {
		return nil, denied(textNotAssignee)
	}
	return o, nil
}

func guardFailure(current *models.Order, expected models.Status) error {
	switch {
	case current.Status == models.StatusCancelled:
		return invalidTransition(textOrderCancelled)
	case expected == models.StatusAwaitingPerformer && current.Status.RequiresPerformer():
		return invalidTransition(textAlreadyTaken)
	}
	return invalidTransition(textAlreadyHandled)
}

// transition writes expected -> next through the store's compare-and-set,
// retrying an I/O failure once. A retry that loses the guard counts as
// success when the row already shows our write.
func (c *Coordinator) transition(ctx context.Context, orderID int64, expected, next models.Status, m models.Mutation, actorID int64) (*models.Order, error) {
	if err := models.ValidateTransition(expected, next); err != nil {
		return nil, err
	}

	attempts := 0
	var ok bool
	err := retry.WithBackoff(ctx, writeAttempts, c.writeBackoffs, func(ctx context.Context) error {
		attempts++
		var err error
		ok, err = c.store.TryTransition(ctx, orderID, expected, next, m)
		if errors.Is(err, models.ErrPerformerBusy) || errors.Is(err, models.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	switch {
	case errors.Is(err, models.ErrPerformerBusy):
		return nil, invalidTransition(textPerformerBusy)
	case errors.Is(err, models.ErrNotFound):
		return nil, invalidTransition(fmt.Sprintf("⚠️ Order #%d does not exist.", orderID))
	case err != nil:
		config.LogError(c.logger, moduleName, "transition", "status write failed", logrus.Fields{
			"order_id": orderID, "from": expected, "to": next,
		}, err)
		return nil, storeUnavailable("transition", err)
	}

	current, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		if !ok {
			return nil, storeUnavailable("get order", err)
		}
		current = nil
	}

	if !ok {
		if attempts > 1 && current.Status == next && samePerformer(current, m) {
			ok = true
		} else {
			return nil, guardFailure(current, expected)
		}
	}

	if current == nil {
		// The write committed but the re-read failed; rebuild the row locally.
		current = &models.Order{ID: orderID}
		m.Apply(current)
		current.Status = next
	}

	c.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"from":     expected,
		"to":       next,
		"actor_id": actorID,
	}).Info("order transitioned")
	c.publish(ctx, orderID, expected, next, actorID)
	return current, nil
}

func samePerformer(o *models.Order, m models.Mutation) bool {
	if m.PerformerID == nil {
		return true
	}
	return o.PerformerID.Valid && o.PerformerID.Int64 == *m.PerformerID
}

func (c *Coordinator) publish(ctx context.Context, orderID int64, from, to models.Status, actorID int64) {
	if c.publisher == nil {
		return
	}
	event := events.NewOrderEvent(orderID, from, to, actorID, c.now())
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.WithField("order_id", orderID).WithError(err).Warn("failed to publish order event")
	}
}

// reply sends a message to the acting user. Failures are logged only.
func (c *Coordinator) reply(ctx context.Context, chatID int64, text string, controls *models.Controls) {
	if _, err := c.notifier.SendText(ctx, chatID, text, controls); err != nil {
		c.logger.WithField("chat_id", chatID).WithError(err).Warn("failed to send reply")
	}
}

func (c *Coordinator) requesterChat(ctx context.Context, requesterID int64) (int64, bool) {
	r, err := c.store.GetRequester(ctx, requesterID)
	if err != nil {
		c.logger.WithField("requester_id", requesterID).WithError(err).Warn("cannot resolve requester chat")
		return 0, false
	}
	return r.PlatformID, true
}

func (c *Coordinator) performerChat(ctx context.Context, o *models.Order) (int64, bool) {
	if !o.PerformerID.Valid {
		return 0, false
	}
	p, err := c.store.GetPerformer(ctx, o.PerformerID.Int64)
	if err != nil {
		c.logger.WithField("performer_id", o.PerformerID.Int64).WithError(err).Warn("cannot resolve performer chat")
		return 0, false
	}
	return p.PlatformID, true
}

func validatePhotos(photos []string, limit int) error {
	if len(photos) == 0 {
		return invalidInput(textNeedPhoto)
	}
	if len(photos) > limit {
		return invalidInput(textPhotoLimit(limit))
	}
	return nil
}

// SubmitOrder stores a new order and publishes it to every performer.
func (c *Coordinator) SubmitOrder(ctx context.Context, platformID int64, description string, photos []string) (Result, error) {
	actor, err := c.requester(ctx, platformID)
	if err != nil {
		return Result{}, err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return Result{}, invalidInput(textEmptyText)
	}
	if err := validatePhotos(photos, models.MaxOrderPhotos); err != nil {
		return Result{}, err
	}

	// Not retried: a lost acknowledgement would otherwise create a duplicate.
	orderID, err := c.store.CreateOrder(ctx, actor.ID, description, photos)
	if err != nil {
		return Result{}, storeUnavailable("create order", err)
	}

	res, err := c.publishOrder(ctx, orderID, photos, actor.ID)
	if err != nil {
		c.logger.WithField("order_id", orderID).WithError(err).Warn("order stored but not yet published")
	}
	c.reply(ctx, platformID, textOrderCreated(orderID), requesterMenu())
	res.OrderID = orderID
	return res, nil
}

func (c *Coordinator) publishOrder(ctx context.Context, orderID int64, photos []string, actorID int64) (Result, error) {
	o, err := c.transition(ctx, orderID, models.StatusSubmitted, models.StatusAwaitingPerformer, models.Mutation{}, actorID)
	if err != nil {
		return Result{OrderID: orderID, Status: models.StatusSubmitted}, err
	}
	report := c.broadcast(ctx, o, photos)
	return Result{OrderID: orderID, Status: o.Status, Fanout: report}, nil
}

// RecoverSubmitted publishes orders that were stored but never broadcast.
func (c *Coordinator) RecoverSubmitted(ctx context.Context) (int, error) {
	orders, err := c.store.ListOrdersByStatus(ctx, models.StatusSubmitted)
	if err != nil {
		return 0, storeUnavailable("list submitted orders", err)
	}

	published := 0
	for _, o := range orders {
		photos, err := c.store.ListOrderPhotos(ctx, o.ID)
		if err != nil {
			c.logger.WithField("order_id", o.ID).WithError(err).Warn("cannot load photos of submitted order")
			continue
		}
		var refs []string
		for _, p := range photos {
			if p.Round == models.RoundSubmission {
				refs = append(refs, p.MediaRef)
			}
		}
		if _, err := c.publishOrder(ctx, o.ID, refs, 0); err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				c.logger.WithField("order_id", o.ID).WithError(err).Warn("failed to publish submitted order")
			}
			continue
		}
		published++
	}
	return published, nil
}

func (c *Coordinator) CancelOrder(ctx context.Context, platformID, orderID int64) (Result, error) {
	actor, err := c.requester(ctx, platformID)
	if err != nil {
		return Result{}, err
	}
	if _, err := c.ownedOrder(ctx, actor, orderID); err != nil {
		return Result{}, err
	}

	o, err := c.transition(ctx, orderID, models.StatusAwaitingPerformer, models.StatusCancelled, models.Mutation{}, actor.ID)
	if err != nil {
		return Result{}, err
	}
	report := c.fanoutStatus(ctx, o)
	c.reply(ctx, platformID, textCancelled(orderID), requesterMenu())
	return Result{OrderID: orderID, Status: o.Status, Fanout: report}, nil
}

// ClaimOrder assigns the order to the performer. Only one concurrent claim
// wins; a performer with an order in progress cannot claim another.
func (c *Coordinator) ClaimOrder(ctx context.Context, platformID, orderID int64) (Result, error) {
	actor, err := c.performer(ctx, platformID)
	if err != nil {
		return Result{}, err
	}

	o, err := c.transition(ctx, orderID, models.StatusAwaitingPerformer, models.StatusInProgress, models.Mutation{
		PerformerID:        &actor.ID,
		ExclusivePerformer: true,
	}, actor.ID)
	if err != nil {
		return Result{}, err
	}

	report := c.Fanout(ctx, orderID, orderCard(o, statusLine(o.Status, actor.Name)), func(performerID int64) *models.Controls {
		if performerID == actor.ID {
			return resumeResultControls(orderID)
		}
		return nil
	})
	c.sessions.Begin(platformID, orderID, session.KindResultPhotos)
	c.reply(ctx, platformID, textAskResultPhotos(orderID), finishPhotosKeyboard())
	return Result{OrderID: orderID, Status: o.Status, Fanout: report}, nil
}

func (c *Coordinator) DeclineOrder(ctx context.Context, platformID, orderID int64, reason string) (Result, error) {
	actor, err := c.performer(ctx, platformID)
	if err != nil {
		return Result{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Result{}, invalidInput(textEmptyText)
	}

	o, err := c.transition(ctx, orderID, models.StatusAwaitingPerformer, models.StatusDeclined, models.Mutation{
		DeclineReason: &reason,
		DeclinedBy:    &actor.ID,
	}, actor.ID)
	if err != nil {
		return Result{}, err
	}

	report := c.fanoutStatus(ctx, o)
	if chatID, ok := c.requesterChat(ctx, o.RequesterID); ok {
		c.reply(ctx, chatID, textDeclinedForRequester(orderID, reason), nil)
	}
	c.reply(ctx, platformID, textDeclined(orderID), removeKeyboard())
	return Result{OrderID: orderID, Status: o.Status, Fanout: report}, nil
}

// SubmitResult hands the performer's result photos to the requester for review.
func (c *Coordinator) SubmitResult(ctx context.Context, platformID, orderID int64, photos []string) (Result, error) {
	actor, err := c.performer(ctx, platformID)
	if err != nil {
		return Result{}, err
	}
	if err := validatePhotos(photos, models.MaxResultPhotos); err != nil {
		return Result{}, err
	}
	if _, err := c.assignedOrder(ctx, actor, orderID); err != nil {
		return Result{}, err
	}

	count := len(photos)
	o, err := c.transition(ctx, orderID, models.StatusInProgress, models.StatusAwaitingReview, models.Mutation{
		ResultPhotoCount: &count,
		AppendPhotos:     photos,
	}, actor.ID)
	if err != nil {
		return Result{}, err
	}

	report := c.fanoutStatus(ctx, o)
	c.sendForReview(ctx, o, photos, textResultCaption(orderID))
	c.reply(ctx, platformID, textResultSent(orderID), removeKeyboard())
	return Result{OrderID: orderID, Status: o.Status, Fanout: report}, nil
}

func (c *Coordinator) sendForReview(ctx context.Context, o *models.Order, photos []string, caption string) {
	if chatID, ok := c.requesterChat(ctx, o.RequesterID); ok {
		if err := c.notifier.SendPhotoGroup(ctx, chatID, photos, caption); err != nil {
			c.logger.WithField("order_id", o.ID).WithError(err).Warn("failed to send photos to requester")
		}
		c.reply(ctx, chatID, textReviewPrompt(o.ID), reviewControls(o.ID))
	}
	c.copyToAdmins(ctx, photos, caption)
}

// RequestRevision sends the order back to its performer. The pending
// interaction is stored first so a restart cannot lose the revision.
func (c *Coordinator) RequestRevision(ctx context.Context, platformID, orderID int64, comment string) (Result, error) {
	actor, err := c.requester(ctx, platformID)
	if err != nil {
		return Result{}, err
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return Result{}, invalidInput(textEmptyText)
	}
	o, err := c.ownedOrder(ctx, actor, orderID)
	if err != nil {
		return Result{}, err
	}
	if o.Status != models.StatusAwaitingReview || !o.PerformerID.Valid {
		return Result{}, guardFailure(o, models.StatusAwaitingReview)
	}

	pending := models.PendingInteraction{
		OrderID: orderID,
		ActorID: o.PerformerID.Int64,
		Kind:    models.InteractionAwaitingRevisionPhotos,
		Payload: comment,
	}
	if err := c.store.UpsertPendingInteraction(ctx, pending); err != nil {
		return Result{}, storeUnavailable("upsert pending interaction", err)
	}

	o, err = c.transition(ctx, orderID, models.StatusAwaitingReview, models.StatusInRevision, models.Mutation{
		RevisionComment: &comment,
	}, actor.ID)
	if err != nil {
		c.dropPendingUnlessRevising(ctx, orderID)
		return Result{}, err
	}

	report := c.fanoutStatus(ctx, o)
	if chatID, ok := c.performerChat(ctx, o); ok {
		c.reply(ctx, chatID, textRevisionRequested(orderID, comment), resumeRevisionControls(orderID))
	}
	c.reply(ctx, platformID, textRevisionSent(orderID), requesterMenu())
	return Result{OrderID: orderID, Status: o.Status, Fanout: report}, nil
}

func (c *Coordinator) dropPendingUnlessRevising(ctx context.Context, orderID int64) {
	current, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return
	}
	if current.Status == models.StatusInRevision || current.Status == models.StatusAwaitingRevisionPhotos {
		return
	}
	if err := c.store.DeletePendingInteraction(ctx, orderID); err != nil {
		c.logger.WithField("order_id", orderID).WithError(err).Warn("failed to drop pending interaction")
	}
}

// ResumeRevision reopens revision photo collection from the durable pending
// interaction. It also works after a restart that lost the session.
func (c *Coordinator) ResumeRevision(ctx context.Context, platformID, orderID int64) (Result, error) {
	actor, err := c.performer(ctx, platformID)
	if err != nil {
		return Result{}, err
	}
	o, err := c.assignedOrder(ctx, actor, orderID)
	if err != nil {
		return Result{}, err
	}

	pending, err := c.store.GetPendingInteraction(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return Result{}, invalidTransition(textNoRevision)
	}
	if err != nil {
		return Result{}, storeUnavailable("get pending interaction", err)
	}
	if pending.ActorID != actor.ID || pending.Kind != models.InteractionAwaitingRevisionPhotos {
		return Result{}, invalidTransition(textNoRevision)
	}

	res := Result{OrderID: orderID, Status: o.Status}
	switch o.Status {
	case models.StatusInRevision:
		updated, err := c.transition(ctx, orderID, models.StatusInRevision, models.StatusAwaitingRevisionPhotos, models.Mutation{}, actor.ID)
		if err != nil {
			return Result{}, err
		}
		res.Status = updated.Status
		res.Fanout = c.fanoutStatus(ctx, updated)
	case models.StatusAwaitingRevisionPhotos:
		// Already resumed before a restart; only the session needs rebuilding.
	default:
		return Result{}, invalidTransition(textNoRevision)
	}

	c.sessions.Begin(platformID, orderID, session.KindRevisionPhotos)
	c.reply(ctx, platformID, textAskRevisionPhotos(orderID), finishPhotosKeyboard())
	return res, nil
}

func (c *Coordinator) SubmitRevision(ctx context.Context, platformID, orderID int64, photos []string) (Result, error) {
	actor, err := c.performer(ctx, platformID)
	if err != nil {
		return Result{}, err
	}
	if err := validatePhotos(photos, models.MaxResultPhotos); err != nil {
		return Result{}, err
	}
	if _, err := c.assignedOrder(ctx, actor, orderID); err != nil {
		return Result{}, err
	}

	o, err := c.transition(ctx, orderID, models.StatusAwaitingRevisionPhotos, models.StatusAwaitingReview, models.Mutation{
		AppendPhotos: photos,
	}, actor.ID)
	if err != nil {
		return Result{}, err
	}
	if err := c.store.DeletePendingInteraction(ctx, orderID); err != nil {
		c.logger.WithField("order_id", orderID).WithError(err).Warn("failed to delete pending interaction")
	}

	report := c.fanoutStatus(ctx, o)
	c.sendForReview(ctx, o, photos, textRevisionCaption(orderID))
	c.reply(ctx, platformID, textResultSent(orderID), removeKeyboard())
	return Result{OrderID: orderID, Status: o.Status, Fanout: report}, nil
}

func (c *Coordinator) AcceptOrder(ctx context.Context, platformID, orderID int64) (Result, error) {
	actor, err := c.requester(ctx, platformID)
	if err != nil {
		return Result{}, err
	}
	if _, err := c.ownedOrder(ctx, actor, orderID); err != nil {
		return Result{}, err
	}

	o, err := c.transition(ctx, orderID, models.StatusAwaitingReview, models.StatusCompleted, models.Mutation{}, actor.ID)
	if err != nil {
		return Result{}, err
	}

	report := c.fanoutStatus(ctx, o)
	if chatID, ok := c.performerChat(ctx, o); ok {
		c.reply(ctx, chatID, textAcceptedForPerformer(orderID), nil)
	}
	c.reply(ctx, platformID, textAccepted(orderID), requesterMenu())
	return Result{OrderID: orderID, Status: o.Status, Fanout: report}, nil
}
