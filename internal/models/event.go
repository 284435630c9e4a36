package models

// Event is one inbound actor interaction delivered by the transport.
type Event interface {
	Actor() int64
}

type TextReceived struct {
	ActorID int64
	ChatID  int64
	Text    string
}

type PhotoReceived struct {
	ActorID  int64
	ChatID   int64
	MediaRef string
}

type Control string

const (
	ControlStart        Control = "start"
	ControlCreateOrder  Control = "create_order"
	ControlCancelOrder  Control = "cancel_order"
	ControlFinishPhotos Control = "finish_photos"
	ControlReport       Control = "report"

	// ControlRequesterReport takes the requester's Telegram id as argument.
	ControlRequesterReport Control = "requester_report"
)

// Reply-keyboard labels.
const (
	LabelCreateOrder  = "📝 New order"
	LabelCancelOrder  = "❌ Cancel order"
	LabelFinishPhotos = "✅ Finish photos"
)

// ControlForLabel maps a reply-keyboard label to its control.
func ControlForLabel(label string) (Control, bool) {
	switch label {
	case LabelCreateOrder:
		return ControlCreateOrder, true
	case LabelCancelOrder:
		return ControlCancelOrder, true
	case LabelFinishPhotos:
		return ControlFinishPhotos, true
	}
	return "", false
}

// ControlForCommand maps a slash command (without the slash) to its control.
func ControlForCommand(command string) (Control, bool) {
	switch command {
	case "start":
		return ControlStart, true
	case "new":
		return ControlCreateOrder, true
	case "cancel":
		return ControlCancelOrder, true
	case "done":
		return ControlFinishPhotos, true
	case "rep", "report":
		return ControlReport, true
	case "repexp":
		return ControlRequesterReport, true
	}
	return "", false
}

// ControlInvoked is a reply-keyboard press or a slash command.
type ControlInvoked struct {
	ActorID   int64
	ChatID    int64
	Control   Control
	Arguments string
}

// CallbackInvoked is an inline button press on a message we sent.
type CallbackInvoked struct {
	ActorID    int64
	CallbackID string
	Payload    string
	Message    MessageRef
}

func (e TextReceived) Actor() int64    { return e.ActorID }
func (e PhotoReceived) Actor() int64   { return e.ActorID }
func (e ControlInvoked) Actor() int64  { return e.ActorID }
func (e CallbackInvoked) Actor() int64 { return e.ActorID }

// Button is an inline button carrying a callback payload.
type Button struct {
	Label   string
	Payload string
}

// Controls describe the keyboard attached to an outgoing message.
type Controls struct {
	Inline      [][]Button
	Reply       [][]string
	RemoveReply bool
}

func InlineRow(buttons ...Button) *Controls {
	return &Controls{Inline: [][]Button{buttons}}
}
