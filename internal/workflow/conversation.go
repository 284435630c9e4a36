package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"photo-orders-bot/internal/models"
	"photo-orders-bot/internal/session"
)

// Start shows the role menu and drops any half-finished interaction.
func (c *Coordinator) Start(ctx context.Context, platformID int64) error {
	c.sessions.End(platformID)

	actor, err := c.resolve(ctx, platformID)
	if err != nil {
		return err
	}
	switch actor.Role {
	case models.RoleRequester:
		if actor.Banned {
			return denied(textBanned)
		}
		c.reply(ctx, platformID, textRequesterMenu, requesterMenu())
	case models.RolePerformer:
		c.reply(ctx, platformID, textPerformerMenu, removeKeyboard())
	}
	return nil
}

// BeginOrder opens a new order conversation for a requester.
func (c *Coordinator) BeginOrder(ctx context.Context, platformID int64) error {
	if _, err := c.requester(ctx, platformID); err != nil {
		return err
	}
	c.sessions.Begin(platformID, 0, session.KindOrderDescription)
	c.reply(ctx, platformID, textAskDescription, removeKeyboard())
	return nil
}

func (c *Coordinator) BeginDecline(ctx context.Context, platformID, orderID int64) error {
	if _, err := c.performer(ctx, platformID); err != nil {
		return err
	}
	o, err := c.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != models.StatusAwaitingPerformer {
		return guardFailure(o, models.StatusAwaitingPerformer)
	}
	c.sessions.Begin(platformID, orderID, session.KindDeclineReason)
	c.reply(ctx, platformID, fmt.Sprintf(textAskDeclineReason, orderID), nil)
	return nil
}

func (c *Coordinator) BeginRevision(ctx context.Context, platformID, orderID int64) error {
	actor, err := c.requester(ctx, platformID)
	if err != nil {
		return err
	}
	o, err := c.ownedOrder(ctx, actor, orderID)
	if err != nil {
		return err
	}
	if o.Status != models.StatusAwaitingReview {
		return guardFailure(o, models.StatusAwaitingReview)
	}
	c.sessions.Begin(platformID, orderID, session.KindRevisionComment)
	c.reply(ctx, platformID, fmt.Sprintf(textAskRevision, orderID), removeKeyboard())
	return nil
}

// ResumeResult reopens result photo collection for the assignee, for example
// after a restart dropped the session.
func (c *Coordinator) ResumeResult(ctx context.Context, platformID, orderID int64) error {
	actor, err := c.performer(ctx, platformID)
	if err != nil {
		return err
	}
	o, err := c.assignedOrder(ctx, actor, orderID)
	if err != nil {
		return err
	}
	if o.Status != models.StatusInProgress {
		return invalidTransition(textAlreadyHandled)
	}
	c.sessions.Begin(platformID, orderID, session.KindResultPhotos)
	c.reply(ctx, platformID, textAskResultPhotos(orderID), finishPhotosKeyboard())
	return nil
}

// ListCancellable shows the requester's unclaimed orders with cancel buttons.
func (c *Coordinator) ListCancellable(ctx context.Context, platformID int64) error {
	actor, err := c.requester(ctx, platformID)
	if err != nil {
		return err
	}
	orders, err := c.store.ListRequesterOrders(ctx, actor.ID, models.StatusAwaitingPerformer)
	if err != nil {
		return storeUnavailable("list cancellable orders", err)
	}
	if len(orders) == 0 {
		c.reply(ctx, platformID, textNothingToCancel, requesterMenu())
		return nil
	}
	if _, err := c.notifier.SendText(ctx, platformID, "Choose the order to cancel:", cancellableControls(orders)); err != nil {
		return notifierUnavailable("send cancel menu", err)
	}
	return nil
}

// PromptCancel turns the cancel menu message into a confirmation dialog.
func (c *Coordinator) PromptCancel(ctx context.Context, platformID, orderID int64, ref models.MessageRef) error {
	actor, err := c.requester(ctx, platformID)
	if err != nil {
		return err
	}
	o, err := c.ownedOrder(ctx, actor, orderID)
	if err != nil {
		return err
	}
	if o.Status != models.StatusAwaitingPerformer {
		return guardFailure(o, models.StatusAwaitingPerformer)
	}
	if err := c.notifier.EditText(ctx, ref, textConfirmCancel(o), confirmCancelControls(orderID)); err != nil {
		return notifierUnavailable("edit cancel prompt", err)
	}
	return nil
}

func (c *Coordinator) AbortCancel(ctx context.Context, ref models.MessageRef) error {
	if err := c.notifier.EditText(ctx, ref, textCancelAborted, nil); err != nil {
		return notifierUnavailable("edit cancel prompt", err)
	}
	return nil
}

// HandleText feeds free text into the actor's current interaction.
func (c *Coordinator) HandleText(ctx context.Context, platformID int64, text string) error {
	s, ok := c.sessions.Data(platformID)
	if !ok {
		return invalidInput(textNotExpected)
	}
	if strings.TrimSpace(text) == "" {
		return invalidInput(textEmptyText)
	}

	switch s.Kind {
	case session.KindOrderDescription:
		if err := c.sessions.SetText(platformID, strings.TrimSpace(text)); err != nil {
			return invalidInput(textNotExpected)
		}
		if err := c.sessions.Advance(platformID, session.KindOrderPhotos); err != nil {
			return invalidInput(textNotExpected)
		}
		c.reply(ctx, platformID, textAskOrderPhotos(), finishPhotosKeyboard())
		return nil
	case session.KindDeclineReason:
		_, err := c.DeclineOrder(ctx, platformID, s.OrderID, text)
		c.settle(platformID, err)
		return err
	case session.KindRevisionComment:
		_, err := c.RequestRevision(ctx, platformID, s.OrderID, text)
		c.settle(platformID, err)
		return err
	}
	return invalidInput(textNotExpected)
}

// HandlePhoto adds a photo to the actor's current photo round.
func (c *Coordinator) HandlePhoto(ctx context.Context, platformID int64, mediaRef string) error {
	n, err := c.sessions.AddPhoto(platformID, mediaRef)
	switch {
	case errors.Is(err, session.ErrPhotoLimit):
		s, _ := c.sessions.Data(platformID)
		return invalidInput(textPhotoLimit(s.Kind.PhotoLimit()))
	case err != nil:
		return invalidInput(textNotExpected)
	}

	s, _ := c.sessions.Data(platformID)
	c.reply(ctx, platformID, textPhotoReceived(n, s.Kind.PhotoLimit()), finishPhotosKeyboard())
	return nil
}

// FinishPhotos submits the collected photo round.
func (c *Coordinator) FinishPhotos(ctx context.Context, platformID int64) (Result, error) {
	s, ok := c.sessions.Data(platformID)
	if !ok {
		return Result{}, invalidInput(textNotExpected)
	}

	var (
		res Result
		err error
	)
	switch s.Kind {
	case session.KindOrderPhotos:
		res, err = c.SubmitOrder(ctx, platformID, s.Text, s.Photos)
	case session.KindResultPhotos:
		res, err = c.SubmitResult(ctx, platformID, s.OrderID, s.Photos)
	case session.KindRevisionPhotos:
		res, err = c.SubmitRevision(ctx, platformID, s.OrderID, s.Photos)
	default:
		return Result{}, invalidInput(textNotExpected)
	}
	c.settle(platformID, err)
	return res, err
}

// settle ends the session unless the actor can still fix the input or retry.
func (c *Coordinator) settle(platformID int64, err error) {
	if err == nil || errors.Is(err, ErrAuthorizationDenied) || errors.Is(err, ErrInvalidTransition) {
		c.sessions.End(platformID)
	}
}
