package workflow

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"photo-orders-bot/internal/models"
	"photo-orders-bot/internal/retry"
)

const editAttempts = 2

// RecipientResult is the outcome of updating one performer's message.
type RecipientResult struct {
	PerformerID int64
	Ref         models.MessageRef
	Err         error
}

// FanoutReport lists per-recipient outcomes of a status broadcast. A failed
// recipient never undoes the transition that triggered the broadcast.
type FanoutReport struct {
	OrderID int64
	Results []RecipientResult
}

func (r FanoutReport) Failed() []RecipientResult {
	var out []RecipientResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Delivered counts recipients that were reached.
func (r FanoutReport) Delivered() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

func (r FanoutReport) OK() bool {
	return len(r.Failed()) == 0
}

// Fanout rewrites every indexed message of the order with the given text.
// controlsFor picks the buttons per performer and may be nil. Each edit is
// tried at most twice.
func (c *Coordinator) Fanout(ctx context.Context, orderID int64, text string, controlsFor func(performerID int64) *models.Controls) FanoutReport {
	report := FanoutReport{OrderID: orderID}
	log := c.logger.WithField("order_id", orderID)

	indices, err := c.store.ListMessageIndices(ctx, orderID)
	if err != nil {
		log.WithError(err).Warn("fan-out skipped: cannot list message indices")
		return report
	}

	for _, mi := range indices {
		var controls *models.Controls
		if controlsFor != nil {
			controls = controlsFor(mi.PerformerID)
		}
		err := retry.WithBackoff(ctx, editAttempts, c.editBackoffs, func(ctx context.Context) error {
			return c.notifier.EditText(ctx, mi.Ref, text, controls)
		})
		if err != nil {
			log.WithFields(logrus.Fields{
				"performer_id": mi.PerformerID,
				"chat_id":      mi.Ref.ChatID,
				"message_id":   mi.Ref.MessageID,
			}).WithError(err).Warn("failed to update performer message")
		}
		report.Results = append(report.Results, RecipientResult{PerformerID: mi.PerformerID, Ref: mi.Ref, Err: err})
	}

	if failed := len(report.Failed()); failed > 0 {
		log.WithFields(logrus.Fields{"failed": failed, "total": len(report.Results)}).Warn("partial fan-out failure")
	}
	return report
}

// fanoutStatus pushes the current status line of o to every performer.
func (c *Coordinator) fanoutStatus(ctx context.Context, o *models.Order) FanoutReport {
	name := ""
	if o.Status == models.StatusInProgress && o.PerformerID.Valid {
		if p, err := c.store.GetPerformer(ctx, o.PerformerID.Int64); err == nil {
			name = p.Name
		}
	}
	return c.Fanout(ctx, o.ID, orderCard(o, statusLine(o.Status, name)), nil)
}

// broadcast sends the order card with claim controls to every performer and
// indexes each message.
func (c *Coordinator) broadcast(ctx context.Context, o *models.Order, photos []string) FanoutReport {
	report := FanoutReport{OrderID: o.ID}
	log := c.logger.WithField("order_id", o.ID)

	performers, err := c.store.ListPerformers(ctx)
	if err != nil {
		log.WithError(err).Error("broadcast skipped: cannot list performers")
		return report
	}

	card := orderCard(o, statusLine(o.Status, ""))
	for _, p := range performers {
		if len(photos) > 0 {
			if err := c.notifier.SendPhotoGroup(ctx, p.PlatformID, photos, ""); err != nil {
				log.WithField("performer_id", p.ID).WithError(err).Warn("failed to send order photos")
			}
		}

		ref, err := c.notifier.SendText(ctx, p.PlatformID, card, claimControls(o.ID))
		if err == nil {
			if err = c.store.RecordMessageIndex(ctx, o.ID, p.ID, ref); err != nil {
				err = storeUnavailable("record message index", err)
			}
		}
		if err != nil {
			log.WithField("performer_id", p.ID).WithError(err).Warn("failed to broadcast order")
		}
		report.Results = append(report.Results, RecipientResult{PerformerID: p.ID, Ref: ref, Err: err})
	}
	return report
}

// Remind re-sends the claim controls for an unclaimed order to every
// performer. Reminder messages are not indexed.
func (c *Coordinator) Remind(ctx context.Context, o *models.Order) FanoutReport {
	report := FanoutReport{OrderID: o.ID}

	performers, err := c.store.ListPerformers(ctx)
	if err != nil {
		c.logger.WithField("order_id", o.ID).WithError(err).Error("reminder skipped: cannot list performers")
		return report
	}

	for _, p := range performers {
		ref, err := c.notifier.SendText(ctx, p.PlatformID, textReminder(o), claimControls(o.ID))
		if err != nil {
			c.logger.WithFields(logrus.Fields{"order_id": o.ID, "performer_id": p.ID}).WithError(err).Warn("failed to send reminder")
		}
		report.Results = append(report.Results, RecipientResult{PerformerID: p.ID, Ref: ref, Err: err})
	}
	return report
}

func (c *Coordinator) copyToAdmins(ctx context.Context, photos []string, caption string) {
	for _, chatID := range c.adminChats {
		if err := c.notifier.SendPhotoGroup(ctx, chatID, photos, caption); err != nil {
			c.logger.WithField("chat_id", chatID).WithError(err).Warn("failed to copy photos to admin")
		}
	}
}

// DefaultEditBackoffs is the pause before the second edit attempt.
var DefaultEditBackoffs = []time.Duration{300 * time.Millisecond}
