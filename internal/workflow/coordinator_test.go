package workflow_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photo-orders-bot/internal/models"
	"photo-orders-bot/internal/session"
	"photo-orders-bot/internal/workflow"
)

func TestCoordinator_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.coord.SubmitOrder(ctx, requesterChat, "Fix alignment", []string{"p1", "p2"})
	require.NoError(t, err)
	id := res.OrderID
	assert.Equal(t, models.StatusAwaitingPerformer, f.order(t, id).Status)
	assert.Len(t, res.Fanout.Results, 2)
	assert.True(t, res.Fanout.OK())

	indices, err := f.store.ListMessageIndices(ctx, id)
	require.NoError(t, err)
	require.Len(t, indices, 2)
	for _, chat := range []int64{performerA, performerB} {
		groups := f.notifier.groupsTo(chat)
		require.Len(t, groups, 1)
		assert.Equal(t, []string{"p1", "p2"}, groups[0].Photos)
		card := f.notifier.lastTo(chat)
		assert.Contains(t, card.Text, "Status: Awaiting performer")
		assert.Equal(t, []string{
			fmt.Sprintf("take_order_%d", id),
			fmt.Sprintf("retake_order_%d", id),
		}, payloads(card.Controls))
	}

	_, err = f.coord.ClaimOrder(ctx, performerA, id)
	require.NoError(t, err)
	o := f.order(t, id)
	assert.Equal(t, models.StatusInProgress, o.Status)
	assert.Equal(t, f.performerA, o.PerformerID.Int64)

	var refB models.MessageRef
	for _, mi := range indices {
		if mi.PerformerID == f.performerB {
			refB = mi.Ref
		}
	}
	assert.Contains(t, f.notifier.currentText(refB), "Status: In progress with A")

	s, ok := f.sessions.Data(performerA)
	require.True(t, ok)
	assert.Equal(t, session.KindResultPhotos, s.Kind)

	require.NoError(t, f.coord.HandlePhoto(ctx, performerA, "r1"))
	_, err = f.coord.FinishPhotos(ctx, performerA)
	require.NoError(t, err)
	o = f.order(t, id)
	assert.Equal(t, models.StatusAwaitingReview, o.Status)
	assert.Equal(t, 1, o.ResultPhotoCount)
	_, ok = f.sessions.Data(performerA)
	assert.False(t, ok)

	groups := f.notifier.groupsTo(requesterChat)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"r1"}, groups[0].Photos)
	review := f.notifier.lastTo(requesterChat)
	assert.Equal(t, []string{
		fmt.Sprintf("accept_%d", id),
		fmt.Sprintf("revision_%d", id),
	}, payloads(review.Controls))
	assert.Len(t, f.notifier.groupsTo(adminChat), 1)

	_, err = f.coord.AcceptOrder(ctx, requesterChat, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, f.order(t, id).Status)
	assert.Contains(t, f.notifier.lastTo(performerA).Text, "accepted")
}

func TestCoordinator_ConcurrentClaimHasOneWinner(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		f := newFixture(t)
		id := f.submitted(t)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for n, chat := range []int64{performerA, performerB} {
			wg.Add(1)
			go func(n int, chat int64) {
				defer wg.Done()
				_, errs[n] = f.coord.ClaimOrder(ctx, chat, id)
			}(n, chat)
		}
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
				continue
			}
			assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
			assert.Contains(t, workflow.UserMessage(err), "already been taken")
		}
		assert.Equal(t, 1, winners)
		assert.Equal(t, models.StatusInProgress, f.order(t, id).Status)
	}
}

func TestCoordinator_BusyPerformerCannotClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.submitted(t)
	second := f.submitted(t)

	_, err := f.coord.ClaimOrder(ctx, performerA, first)
	require.NoError(t, err)

	_, err = f.coord.ClaimOrder(ctx, performerA, second)
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.Contains(t, workflow.UserMessage(err), "Finish your current order")
	assert.Equal(t, models.StatusAwaitingPerformer, f.order(t, second).Status)

	_, err = f.coord.SubmitResult(ctx, performerA, first, []string{"r1"})
	require.NoError(t, err)

	_, err = f.coord.ClaimOrder(ctx, performerA, second)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, f.order(t, second).Status)
}

func TestCoordinator_SeventhOrderPhotoRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.coord.BeginOrder(ctx, requesterChat))
	require.NoError(t, f.coord.HandleText(ctx, requesterChat, "Fix alignment"))
	for i := 1; i <= 6; i++ {
		require.NoError(t, f.coord.HandlePhoto(ctx, requesterChat, fmt.Sprintf("p%d", i)))
	}

	err := f.coord.HandlePhoto(ctx, requesterChat, "p7")
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)

	s, ok := f.sessions.Data(requesterChat)
	require.True(t, ok)
	assert.Len(t, s.Photos, 6)

	res, err := f.coord.FinishPhotos(ctx, requesterChat)
	require.NoError(t, err)
	photos, err := f.store.ListOrderPhotos(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Len(t, photos, 6)
	assert.Equal(t, "p6", photos[5].MediaRef)
}

func TestCoordinator_SubmitOrderValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.coord.SubmitOrder(ctx, requesterChat, "   ", []string{"p1"})
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)

	_, err = f.coord.SubmitOrder(ctx, requesterChat, "desc", nil)
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)

	_, err = f.coord.SubmitOrder(ctx, requesterChat, "desc", []string{"1", "2", "3", "4", "5", "6", "7"})
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)

	f.store.SetBanned(f.requesterID, true)
	_, err = f.coord.SubmitOrder(ctx, requesterChat, "desc", []string{"p1"})
	assert.ErrorIs(t, err, workflow.ErrAuthorizationDenied)

	orders, _ := f.store.ListOrdersByStatus(ctx, models.StatusAwaitingPerformer)
	assert.Empty(t, orders)
}

func TestCoordinator_FinishWithoutPhotosKeepsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.coord.BeginOrder(ctx, requesterChat))
	require.NoError(t, f.coord.HandleText(ctx, requesterChat, "Fix alignment"))

	_, err := f.coord.FinishPhotos(ctx, requesterChat)
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)

	s, ok := f.sessions.Data(requesterChat)
	require.True(t, ok)
	assert.Equal(t, "Fix alignment", s.Text)
}

func TestCoordinator_UnexpectedInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.coord.HandlePhoto(ctx, performerA, "stray")
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)
	assert.Contains(t, workflow.UserMessage(err), "not expected right now")

	err = f.coord.HandleText(ctx, performerA, "hello")
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)

	require.NoError(t, f.coord.BeginOrder(ctx, requesterChat))
	err = f.coord.HandlePhoto(ctx, requesterChat, "too-early")
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)
}

func TestCoordinator_RevisionRoundTripSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.inReview(t)
	firstReview := f.notifier.lastTo(requesterChat)

	require.NoError(t, f.coord.BeginRevision(ctx, requesterChat, id))
	require.NoError(t, f.coord.HandleText(ctx, requesterChat, "crop tighter"))

	o := f.order(t, id)
	assert.Equal(t, models.StatusInRevision, o.Status)
	assert.Equal(t, "crop tighter", o.RevisionComment.String)

	pending, err := f.store.GetPendingInteraction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, f.performerA, pending.ActorID)
	assert.Equal(t, "crop tighter", pending.Payload)

	notice := f.notifier.lastTo(performerA)
	assert.Contains(t, notice.Text, "crop tighter")
	assert.Equal(t, []string{fmt.Sprintf("activate_revision_%d", id)}, payloads(notice.Controls))

	// Restart: sessions are gone, the store survives.
	f.coord = f.newCoordinator(f.store)

	res, err := f.coord.ResumeRevision(ctx, performerA, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingRevisionPhotos, res.Status)
	assert.Equal(t, models.StatusAwaitingRevisionPhotos, f.order(t, id).Status)

	for _, ref := range []string{"v1", "v2", "v3"} {
		require.NoError(t, f.coord.HandlePhoto(ctx, performerA, ref))
	}
	res, err = f.coord.FinishPhotos(ctx, performerA)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingReview, res.Status)

	_, err = f.store.GetPendingInteraction(ctx, id)
	assert.ErrorIs(t, err, models.ErrNotFound)

	secondReview := f.notifier.lastTo(requesterChat)
	assert.Equal(t, payloads(firstReview.Controls), payloads(secondReview.Controls))

	groups := f.notifier.groupsTo(requesterChat)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"v1", "v2", "v3"}, groups[1].Photos)

	photos, _ := f.store.ListOrderPhotos(ctx, id)
	assert.Equal(t, 2+1+3, len(photos))
	assert.Equal(t, models.RoundResult+1, photos[len(photos)-1].Round)
}

func TestCoordinator_ResumeRevisionAfterRestartMidCollection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.inReview(t)

	_, err := f.coord.RequestRevision(ctx, requesterChat, id, "more light")
	require.NoError(t, err)
	_, err = f.coord.ResumeRevision(ctx, performerA, id)
	require.NoError(t, err)
	require.NoError(t, f.coord.HandlePhoto(ctx, performerA, "v1"))

	f.coord = f.newCoordinator(f.store)

	res, err := f.coord.ResumeRevision(ctx, performerA, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingRevisionPhotos, res.Status)
	s, ok := f.sessions.Data(performerA)
	require.True(t, ok)
	assert.Equal(t, session.KindRevisionPhotos, s.Kind)
	assert.Empty(t, s.Photos)
}

func TestCoordinator_ResumeRevisionRequiresPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.inReview(t)

	_, err := f.coord.ResumeRevision(ctx, performerA, id)
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	_, err = f.coord.RequestRevision(ctx, requesterChat, id, "fix")
	require.NoError(t, err)

	_, err = f.coord.ResumeRevision(ctx, performerB, id)
	assert.ErrorIs(t, err, workflow.ErrAuthorizationDenied)
}

func TestCoordinator_RevisionFailureDropsPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.inReview(t)

	flaky := &flakyStore{Store: f.store, failures: 2}
	f.coord = f.newCoordinator(flaky)

	_, err := f.coord.RequestRevision(ctx, requesterChat, id, "fix")
	assert.ErrorIs(t, err, workflow.ErrStoreUnavailable)
	assert.Equal(t, models.StatusAwaitingReview, f.order(t, id).Status)

	_, err = f.store.GetPendingInteraction(ctx, id)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCoordinator_CancelAndLateClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.submitted(t)

	_, err := f.coord.CancelOrder(ctx, performerA, id)
	assert.ErrorIs(t, err, workflow.ErrAuthorizationDenied)

	_, err = f.coord.CancelOrder(ctx, strangerChat, id)
	assert.ErrorIs(t, err, workflow.ErrAuthorizationDenied)

	res, err := f.coord.CancelOrder(ctx, requesterChat, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, f.order(t, id).Status)
	for _, r := range res.Fanout.Results {
		assert.Contains(t, f.notifier.currentText(r.Ref), "Cancelled by requester")
	}

	_, err = f.coord.ClaimOrder(ctx, performerB, id)
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.Contains(t, workflow.UserMessage(err), "cancelled")
}

func TestCoordinator_Decline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.submitted(t)

	require.NoError(t, f.coord.BeginDecline(ctx, performerB, id))
	require.NoError(t, f.coord.HandleText(ctx, performerB, "no equipment"))

	o := f.order(t, id)
	assert.Equal(t, models.StatusDeclined, o.Status)
	assert.False(t, o.PerformerID.Valid)
	assert.Equal(t, f.performerB, o.DeclinedBy.Int64)
	assert.Equal(t, "no equipment", o.DeclineReason.String)
	assert.Contains(t, f.notifier.lastTo(requesterChat).Text, "no equipment")

	_, err := f.coord.ClaimOrder(ctx, performerA, id)
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestCoordinator_OnlyAssigneeSubmitsResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.submitted(t)
	_, err := f.coord.ClaimOrder(ctx, performerA, id)
	require.NoError(t, err)

	_, err = f.coord.SubmitResult(ctx, performerB, id, []string{"r1"})
	assert.ErrorIs(t, err, workflow.ErrAuthorizationDenied)

	_, err = f.coord.SubmitResult(ctx, performerA, id, []string{"r1", "r2", "r3", "r4"})
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)

	_, err = f.coord.AcceptOrder(ctx, requesterChat, id)
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.Equal(t, models.StatusInProgress, f.order(t, id).Status)
}

func TestCoordinator_UnknownActorDenied(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.SubmitOrder(context.Background(), 12345, "desc", []string{"p1"})
	assert.ErrorIs(t, err, workflow.ErrAuthorizationDenied)
	assert.Contains(t, workflow.UserMessage(err), "not registered")
}

func TestCoordinator_PartialFanoutFailureKeepsTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.submitted(t)
	f.notifier.failEdits[performerB] = true

	res, err := f.coord.ClaimOrder(ctx, performerA, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, f.order(t, id).Status)

	failed := res.Fanout.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, f.performerB, failed[0].PerformerID)
	assert.Equal(t, 2, f.notifier.editCalls[failed[0].Ref])
	assert.False(t, res.Fanout.OK())
}

func TestCoordinator_ClaimShowsResumeButtonToAssignee(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.submitted(t)

	res, err := f.coord.ClaimOrder(ctx, performerA, id)
	require.NoError(t, err)

	for _, r := range res.Fanout.Results {
		f.notifier.mu.Lock()
		controls := f.notifier.current[r.Ref].Controls
		f.notifier.mu.Unlock()
		if r.PerformerID == f.performerA {
			assert.Equal(t, []string{fmt.Sprintf("resume_result_%d", id)}, payloads(controls))
		} else {
			assert.Nil(t, controls)
		}
	}

	f.coord = f.newCoordinator(f.store)
	require.NoError(t, f.coord.ResumeResult(ctx, performerA, id))
	s, ok := f.sessions.Data(performerA)
	require.True(t, ok)
	assert.Equal(t, session.KindResultPhotos, s.Kind)

	assert.ErrorIs(t, f.coord.ResumeResult(ctx, performerB, id), workflow.ErrAuthorizationDenied)
}

func TestCoordinator_WriteRetriedOnceAfterLostAck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.submitted(t)

	flaky := &flakyStore{Store: f.store, failures: 1, commitFirst: true}
	f.coord = f.newCoordinator(flaky)

	res, err := f.coord.ClaimOrder(ctx, performerA, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, res.Status)
	assert.Equal(t, f.performerA, f.order(t, id).PerformerID.Int64)
}

func TestCoordinator_WriteFailsAfterOneRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.submitted(t)

	flaky := &flakyStore{Store: f.store, failures: 2}
	f.coord = f.newCoordinator(flaky)

	_, err := f.coord.ClaimOrder(ctx, performerA, id)
	assert.ErrorIs(t, err, workflow.ErrStoreUnavailable)
	assert.Contains(t, workflow.UserMessage(err), "try again")
	assert.Equal(t, models.StatusAwaitingPerformer, f.order(t, id).Status)
}

func TestCoordinator_StoreFailureKeepsResultSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.submitted(t)
	_, err := f.coord.ClaimOrder(ctx, performerA, id)
	require.NoError(t, err)
	require.NoError(t, f.coord.HandlePhoto(ctx, performerA, "r1"))

	flaky := &flakyStore{Store: f.store, failures: 2}
	f.coord = f.coordinatorWith(flaky, f.sessions)

	_, err = f.coord.FinishPhotos(ctx, performerA)
	assert.ErrorIs(t, err, workflow.ErrStoreUnavailable)

	s, ok := f.sessions.Data(performerA)
	require.True(t, ok)
	assert.Equal(t, []string{"r1"}, s.Photos)

	flaky.failures = 0
	_, err = f.coord.FinishPhotos(ctx, performerA)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingReview, f.order(t, id).Status)
}

func TestCoordinator_RecoverSubmitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.CreateOrder(ctx, f.requesterID, "stranded", []string{"p1"})
	require.NoError(t, err)

	n, err := f.coord.RecoverSubmitted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.StatusAwaitingPerformer, f.order(t, id).Status)

	indices, _ := f.store.ListMessageIndices(ctx, id)
	assert.Len(t, indices, 2)

	n, err = f.coord.RecoverSubmitted(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCoordinator_RemindDoesNotIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.submitted(t)

	report := f.coord.Remind(ctx, f.order(t, id))
	assert.Len(t, report.Results, 2)

	indices, _ := f.store.ListMessageIndices(ctx, id)
	assert.Len(t, indices, 2)
	assert.Contains(t, f.notifier.lastTo(performerB).Text, "still waiting")
}
