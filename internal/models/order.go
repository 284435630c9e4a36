package models

import (
	"database/sql"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrPerformerBusy = errors.New("performer already has an order in progress")
)

const (
	MaxOrderPhotos  = 6
	MaxResultPhotos = 3
)

// Photo rounds. Round 0 holds the requester's submission, round 1 the first
// result set and every revision adds one more round.
const (
	RoundSubmission = 0
	RoundResult     = 1
)

type Order struct {
	ID               int64
	Description      string
	Status           Status
	RequesterID      int64
	PerformerID      sql.NullInt64
	ResultPhotoCount int
	RevisionComment  sql.NullString
	DeclineReason    sql.NullString
	DeclinedBy       sql.NullInt64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PerformerConsistent reports whether the performer id matches what the status requires.
func (o Order) PerformerConsistent() bool {
	return o.PerformerID.Valid == o.Status.RequiresPerformer()
}

type OrderPhoto struct {
	OrderID  int64
	Seq      int
	Round    int
	MediaRef string
}

// MessageRef points at one message in one chat.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

type MessageIndex struct {
	OrderID     int64
	PerformerID int64
	Ref         MessageRef
}

type InteractionKind string

const (
	InteractionAwaitingRevisionPhotos InteractionKind = "awaiting_revision_photos"
)

type PendingInteraction struct {
	OrderID   int64
	ActorID   int64
	Kind      InteractionKind
	Payload   string
	CreatedAt time.Time
}

// Mutation lists the column changes applied together with a status write.
type Mutation struct {
	PerformerID      *int64
	ResultPhotoCount *int
	RevisionComment  *string
	DeclineReason    *string
	DeclinedBy       *int64

	// ExclusivePerformer requires PerformerID to have no order InProgress at
	// the time of the write.
	ExclusivePerformer bool

	// AppendPhotos are stored as the next photo round in the same write.
	AppendPhotos []string
}

// Apply copies the mutation onto an order value.
func (m Mutation) Apply(o *Order) {
	if m.PerformerID != nil {
		o.PerformerID = sql.NullInt64{Int64: *m.PerformerID, Valid: true}
	}
	if m.ResultPhotoCount != nil {
		o.ResultPhotoCount = *m.ResultPhotoCount
	}
	if m.RevisionComment != nil {
		o.RevisionComment = sql.NullString{String: *m.RevisionComment, Valid: true}
	}
	if m.DeclineReason != nil {
		o.DeclineReason = sql.NullString{String: *m.DeclineReason, Valid: true}
	}
	if m.DeclinedBy != nil {
		o.DeclinedBy = sql.NullInt64{Int64: *m.DeclinedBy, Valid: true}
	}
}
