package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"photo-orders-bot/internal/models"
)

// ReportGenerator builds the completed-orders workbooks.
type ReportGenerator interface {
	Generate(ctx context.Context) (name string, data []byte, err error)
	GenerateFor(ctx context.Context, requesterPlatformID int64) (name string, data []byte, err error)
}

const DefaultEventTimeout = 15 * time.Second

type queuedEvent struct {
	ctx   context.Context
	event models.Event
}

// Dispatcher runs events one at a time per actor and concurrently across
// actors. Each actor with pending events owns one goroutine that exits once
// its queue drains.
type Dispatcher struct {
	coord    *Coordinator
	notifier Notifier
	reports  ReportGenerator
	admins   map[int64]struct{}
	timeout  time.Duration
	logger   logrus.FieldLogger

	mu     sync.Mutex
	queues map[int64][]queuedEvent
	wg     sync.WaitGroup
}

func NewDispatcher(coord *Coordinator, notifier Notifier, reports ReportGenerator, adminChats []int64, timeout time.Duration, logger logrus.FieldLogger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultEventTimeout
	}
	admins := make(map[int64]struct{}, len(adminChats))
	for _, id := range adminChats {
		admins[id] = struct{}{}
	}
	return &Dispatcher{
		coord:    coord,
		notifier: notifier,
		reports:  reports,
		admins:   admins,
		timeout:  timeout,
		logger:   logger.WithField("module", "dispatcher"),
		queues:   make(map[int64][]queuedEvent),
	}
}

// Dispatch queues the event behind earlier events of the same actor.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.Event) {
	actor := event.Actor()

	d.mu.Lock()
	pending, running := d.queues[actor]
	d.queues[actor] = append(pending, queuedEvent{ctx: ctx, event: event})
	if !running {
		d.wg.Add(1)
		go d.drain(actor)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) drain(actor int64) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		pending := d.queues[actor]
		if len(pending) == 0 {
			delete(d.queues, actor)
			d.mu.Unlock()
			return
		}
		next := pending[0]
		d.queues[actor] = pending[1:]
		d.mu.Unlock()

		_ = d.Handle(next.ctx, next.event)
	}
}

// Wait blocks until every queued event has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Handle processes one event under the per-event timeout and tells the actor
// about any failure.
func (d *Dispatcher) Handle(ctx context.Context, event models.Event) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	log := d.logger.WithFields(logrus.Fields{
		"actor_id": event.Actor(),
		"event":    fmt.Sprintf("%T", event),
	})

	var err error
	switch e := event.(type) {
	case models.TextReceived:
		err = d.coord.HandleText(ctx, e.ActorID, e.Text)
		d.replyOnError(ctx, log, e.ChatID, err)
	case models.PhotoReceived:
		err = d.coord.HandlePhoto(ctx, e.ActorID, e.MediaRef)
		d.replyOnError(ctx, log, e.ChatID, err)
	case models.ControlInvoked:
		err = d.handleControl(ctx, e)
		d.replyOnError(ctx, log, e.ChatID, err)
	case models.CallbackInvoked:
		err = d.handleCallback(ctx, e)
		d.ackCallback(ctx, log, e.CallbackID, err)
	default:
		err = fmt.Errorf("unsupported event %T", event)
	}

	if err != nil {
		logError(log, err)
	}
	return err
}

func (d *Dispatcher) handleControl(ctx context.Context, e models.ControlInvoked) error {
	switch e.Control {
	case models.ControlStart:
		return d.coord.Start(ctx, e.ActorID)
	case models.ControlCreateOrder:
		return d.coord.BeginOrder(ctx, e.ActorID)
	case models.ControlCancelOrder:
		return d.coord.ListCancellable(ctx, e.ActorID)
	case models.ControlFinishPhotos:
		_, err := d.coord.FinishPhotos(ctx, e.ActorID)
		return err
	case models.ControlReport:
		return d.sendReport(ctx, e.ActorID, e.ChatID, func(ctx context.Context, r ReportGenerator) (string, []byte, error) {
			return r.Generate(ctx)
		})
	case models.ControlRequesterReport:
		platformID, ok := parseRequesterArg(e.Arguments)
		if !ok {
			return invalidInput(textRequesterReportUsage)
		}
		return d.sendReport(ctx, e.ActorID, e.ChatID, func(ctx context.Context, r ReportGenerator) (string, []byte, error) {
			return r.GenerateFor(ctx, platformID)
		})
	}
	return invalidInput(textNotExpected)
}

func (d *Dispatcher) handleCallback(ctx context.Context, e models.CallbackInvoked) error {
	prefix, orderID, ok := ParsePayload(e.Payload)
	if !ok {
		return invalidInput(textNotExpected)
	}

	var err error
	switch prefix {
	case PayloadTake:
		_, err = d.coord.ClaimOrder(ctx, e.ActorID, orderID)
	case PayloadDecline:
		err = d.coord.BeginDecline(ctx, e.ActorID, orderID)
	case PayloadCancel:
		err = d.coord.PromptCancel(ctx, e.ActorID, orderID, e.Message)
	case PayloadConfirmCancel:
		_, err = d.coord.CancelOrder(ctx, e.ActorID, orderID)
		if err == nil {
			if editErr := d.notifier.EditText(ctx, e.Message, textCancelled(orderID), nil); editErr != nil {
				d.logger.WithFields(logrus.Fields{"actor_id": e.ActorID, "order_id": orderID}).
					WithError(editErr).Warn("failed to close cancel dialog")
			}
		}
	case PayloadAbortCancel:
		err = d.coord.AbortCancel(ctx, e.Message)
	case PayloadAccept:
		_, err = d.coord.AcceptOrder(ctx, e.ActorID, orderID)
	case PayloadRevision:
		err = d.coord.BeginRevision(ctx, e.ActorID, orderID)
	case PayloadActivateRevision:
		_, err = d.coord.ResumeRevision(ctx, e.ActorID, orderID)
	case PayloadResumeResult:
		err = d.coord.ResumeResult(ctx, e.ActorID, orderID)
	}
	return err
}

// sendReport authorizes the invoking user, not the chat, so members of an
// admin group chat cannot pull reports.
func (d *Dispatcher) sendReport(ctx context.Context, actorID, chatID int64, generate func(context.Context, ReportGenerator) (string, []byte, error)) error {
	if _, ok := d.admins[actorID]; !ok || d.reports == nil {
		return denied(textAdminsOnly)
	}
	name, data, err := generate(ctx, d.reports)
	if err != nil {
		return storeUnavailable("generate report", err)
	}
	if err := d.notifier.SendDocument(ctx, chatID, name, data, "📊 Completed orders"); err != nil {
		return notifierUnavailable("send report", err)
	}
	return nil
}

func parseRequesterArg(args string) (int64, bool) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (d *Dispatcher) replyOnError(ctx context.Context, log logrus.FieldLogger, chatID int64, err error) {
	if err == nil {
		return
	}
	if _, sendErr := d.notifier.SendText(ctx, chatID, UserMessage(err), nil); sendErr != nil {
		log.WithError(sendErr).Warn("failed to send error reply")
	}
}

func (d *Dispatcher) ackCallback(ctx context.Context, log logrus.FieldLogger, callbackID string, err error) {
	text, alert := "", false
	if err != nil {
		text, alert = UserMessage(err), true
	}
	if ackErr := d.notifier.AckCallback(ctx, callbackID, text, alert); ackErr != nil {
		log.WithError(ackErr).Warn("failed to acknowledge callback")
	}
}

func logError(log logrus.FieldLogger, err error) {
	var ue *UserError
	if errors.As(err, &ue) {
		log.WithError(err).Info("event rejected")
		return
	}
	log.WithError(err).Error("event failed")
}
