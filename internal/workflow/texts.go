package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"photo-orders-bot/internal/models"
)

const (
	textTryLater        = "⚠️ Something went wrong on our side. Please try again in a minute."
	textSomethingWrong  = "❌ Could not process the request."
	textNotRegistered   = "⛔ You are not registered. Contact the administrator."
	textBanned          = "⛔ Your account is blocked."
	textRequesterOnly   = "⛔ This action is available to requesters only."
	textPerformerOnly   = "⛔ This action is available to performers only."
	textNotYourOrder    = "⛔ This order belongs to someone else."
	textNotAssignee     = "⛔ Only the performer of this order can do that."
	textNotExpected     = "🤔 That input is not expected right now."
	textAlreadyTaken    = "⚠️ This order has already been taken."
	textOrderCancelled  = "⚠️ This order was cancelled."
	textAlreadyHandled  = "⚠️ This order has already been handled."
	textPerformerBusy   = "⚠️ Finish your current order before taking a new one."
	textEmptyText       = "✏️ The text cannot be empty."
	textNeedPhoto       = "📷 Send at least one photo first."
	textNothingToCancel = "You have no orders waiting for a performer."
	textCancelAborted   = "👌 Nothing was cancelled."
	textAdminsOnly      = "⛔ Reports are available to administrators only."
	textNoRevision      = "⚠️ There is no revision waiting for photos on this order."

	textRequesterReportUsage = "Usage: /repexp <telegram id>"

	textAskDescription   = "✏️ Describe the task."
	textAskDeclineReason = "✏️ Why are you declining order #%d?"
	textAskRevision      = "✏️ What should be fixed in order #%d?"

	textRequesterMenu = "👋 Use the buttons below to create or cancel orders."
	textPerformerMenu = "👋 New orders will appear here. Take one with the button under it."
)

func textAskOrderPhotos() string {
	return fmt.Sprintf("📷 Send up to %d photos, then press \"%s\".", models.MaxOrderPhotos, models.LabelFinishPhotos)
}

func textAskResultPhotos(orderID int64) string {
	return fmt.Sprintf("📷 Order #%d is yours. Send up to %d result photos, then press \"%s\".",
		orderID, models.MaxResultPhotos, models.LabelFinishPhotos)
}

func textAskRevisionPhotos(orderID int64) string {
	return fmt.Sprintf("📷 Send up to %d revised photos for order #%d, then press \"%s\".",
		models.MaxResultPhotos, orderID, models.LabelFinishPhotos)
}

func textPhotoReceived(n, limit int) string {
	if n < limit {
		return fmt.Sprintf("✅ Photo %d/%d received. Send more or press \"%s\".", n, limit, models.LabelFinishPhotos)
	}
	return fmt.Sprintf("✅ %d photos received. Press \"%s\" to send them.", n, models.LabelFinishPhotos)
}

func textPhotoLimit(limit int) string {
	return fmt.Sprintf("⚠️ At most %d photos. Press \"%s\".", limit, models.LabelFinishPhotos)
}

func textOrderCreated(orderID int64) string {
	return fmt.Sprintf("✅ Order #%d was sent to performers.", orderID)
}

// orderCard is the broadcast message every performer keeps for an order.
func orderCard(o *models.Order, statusLine string) string {
	return fmt.Sprintf("📄 Order #%d\nDescription: %s\nStatus: %s", o.ID, o.Description, statusLine)
}

func statusLine(status models.Status, performerName string) string {
	if status == models.StatusInProgress && performerName != "" {
		return "In progress with " + performerName
	}
	return status.Label()
}

func textReminder(o *models.Order) string {
	return fmt.Sprintf("⏰ Order #%d is still waiting for a performer.\nDescription: %s", o.ID, o.Description)
}

func textCancelled(orderID int64) string {
	return fmt.Sprintf("✅ Order #%d was cancelled.", orderID)
}

func textConfirmCancel(o *models.Order) string {
	return fmt.Sprintf("Cancel order #%d?\n%s", o.ID, o.Description)
}

func textDeclinedForRequester(orderID int64, reason string) string {
	return fmt.Sprintf("❌ Order #%d was declined by the performer.\nReason: %s", orderID, reason)
}

func textDeclined(orderID int64) string {
	return fmt.Sprintf("✅ You declined order #%d.", orderID)
}

func textResultCaption(orderID int64) string {
	return fmt.Sprintf("Result for order #%d", orderID)
}

func textRevisionCaption(orderID int64) string {
	return fmt.Sprintf("Revised result for order #%d", orderID)
}

func textReviewPrompt(orderID int64) string {
	return fmt.Sprintf("Order #%d is ready for review:", orderID)
}

func textResultSent(orderID int64) string {
	return fmt.Sprintf("✅ Result for order #%d was sent to the requester.", orderID)
}

func textRevisionRequested(orderID int64, comment string) string {
	return fmt.Sprintf("🔄 Revision requested for order #%d:\n%s", orderID, comment)
}

func textRevisionSent(orderID int64) string {
	return fmt.Sprintf("✅ Revision request for order #%d was sent to the performer.", orderID)
}

func textAcceptedForPerformer(orderID int64) string {
	return fmt.Sprintf("✅ The requester accepted order #%d!", orderID)
}

func textAccepted(orderID int64) string {
	return fmt.Sprintf("✅ Order #%d accepted.", orderID)
}

// Callback payload prefixes.
const (
	PayloadTake             = "take_order_"
	PayloadDecline          = "retake_order_"
	PayloadCancel           = "cancel_order_"
	PayloadConfirmCancel    = "confirm_cancel_"
	PayloadAbortCancel      = "cancel_action"
	PayloadAccept           = "accept_"
	PayloadRevision         = "revision_"
	PayloadActivateRevision = "activate_revision_"
	PayloadResumeResult     = "resume_result_"
)

func payload(prefix string, orderID int64) string {
	return prefix + strconv.FormatInt(orderID, 10)
}

// ParsePayload splits a callback payload into its prefix and order id.
func ParsePayload(data string) (string, int64, bool) {
	if data == PayloadAbortCancel {
		return PayloadAbortCancel, 0, true
	}
	for _, prefix := range []string{
		PayloadTake, PayloadDecline, PayloadConfirmCancel, PayloadCancel,
		PayloadAccept, PayloadActivateRevision, PayloadRevision, PayloadResumeResult,
	} {
		if !strings.HasPrefix(data, prefix) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(data, prefix), 10, 64)
		if err != nil || id <= 0 {
			return "", 0, false
		}
		return prefix, id, true
	}
	return "", 0, false
}

func claimControls(orderID int64) *models.Controls {
	return models.InlineRow(
		models.Button{Label: "✅ Take", Payload: payload(PayloadTake, orderID)},
		models.Button{Label: "❌ Decline", Payload: payload(PayloadDecline, orderID)},
	)
}

func reviewControls(orderID int64) *models.Controls {
	return models.InlineRow(
		models.Button{Label: "✅ Accept", Payload: payload(PayloadAccept, orderID)},
		models.Button{Label: "🔄 Request revision", Payload: payload(PayloadRevision, orderID)},
	)
}

func resumeRevisionControls(orderID int64) *models.Controls {
	return models.InlineRow(
		models.Button{Label: "📷 Upload revised photos", Payload: payload(PayloadActivateRevision, orderID)},
	)
}

func resumeResultControls(orderID int64) *models.Controls {
	return models.InlineRow(
		models.Button{Label: "📷 Resume photo upload", Payload: payload(PayloadResumeResult, orderID)},
	)
}

func confirmCancelControls(orderID int64) *models.Controls {
	return models.InlineRow(
		models.Button{Label: "Yes, cancel", Payload: payload(PayloadConfirmCancel, orderID)},
		models.Button{Label: "No", Payload: PayloadAbortCancel},
	)
}

func cancellableControls(orders []models.Order) *models.Controls {
	c := &models.Controls{}
	for _, o := range orders {
		c.Inline = append(c.Inline, []models.Button{{
			Label:   fmt.Sprintf("#%d %s", o.ID, truncate(o.Description, 32)),
			Payload: payload(PayloadCancel, o.ID),
		}})
	}
	c.Inline = append(c.Inline, []models.Button{{Label: "Never mind", Payload: PayloadAbortCancel}})
	return c
}

func finishPhotosKeyboard() *models.Controls {
	return &models.Controls{Reply: [][]string{{models.LabelFinishPhotos}}}
}

func requesterMenu() *models.Controls {
	return &models.Controls{Reply: [][]string{{models.LabelCreateOrder, models.LabelCancelOrder}}}
}

func removeKeyboard() *models.Controls {
	return &models.Controls{RemoveReply: true}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
