package models

import "fmt"

type Status string

const (
	StatusSubmitted              Status = "submitted"
	StatusAwaitingPerformer      Status = "awaiting_performer"
	StatusInProgress             Status = "in_progress"
	StatusAwaitingReview         Status = "awaiting_review"
	StatusInRevision             Status = "in_revision"
	StatusAwaitingRevisionPhotos Status = "awaiting_revision_photos"
	StatusCompleted              Status = "completed"
	StatusCancelled              Status = "cancelled"
	StatusDeclined               Status = "declined"
)

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusSubmitted: {
		StatusAwaitingPerformer: {},
	},
	StatusAwaitingPerformer: {
		StatusInProgress: {},
		StatusCancelled:  {},
		StatusDeclined:   {},
	},
	StatusInProgress: {
		StatusAwaitingReview: {},
	},
	StatusAwaitingReview: {
		StatusInRevision: {},
		StatusCompleted:  {},
	},
	StatusInRevision: {
		StatusAwaitingRevisionPhotos: {},
	},
	StatusAwaitingRevisionPhotos: {
		StatusAwaitingReview: {},
	},
	StatusCompleted: {},
	StatusCancelled: {},
	StatusDeclined:  {},
}

func ValidateStatus(s Status) error {
	if _, ok := allowedTransitions[s]; !ok {
		return fmt.Errorf("invalid order status: %q", s)
	}
	return nil
}

func ValidateTransition(from, to Status) error {
	if err := ValidateStatus(from); err != nil {
		return err
	}
	if err := ValidateStatus(to); err != nil {
		return err
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid order transition: %s -> %s", from, to)
	}
	return nil
}

// RequiresPerformer reports whether an order in this status must have an assignee.
func (s Status) RequiresPerformer() bool {
	switch s {
	case StatusInProgress, StatusAwaitingReview, StatusCompleted, StatusInRevision, StatusAwaitingRevisionPhotos:
		return true
	case StatusSubmitted, StatusAwaitingPerformer, StatusCancelled, StatusDeclined:
		return false
	}
	return false
}

func (s Status) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

// Label is the status line shown to performers.
func (s Status) Label() string {
	switch s {
	case StatusSubmitted:
		return "Submitted"
	case StatusAwaitingPerformer:
		return "Awaiting performer"
	case StatusInProgress:
		return "In progress"
	case StatusAwaitingReview:
		return "Completed"
	case StatusInRevision, StatusAwaitingRevisionPhotos:
		return "In revision"
	case StatusCompleted:
		return "Accepted"
	case StatusCancelled:
		return "Cancelled by requester"
	case StatusDeclined:
		return "Declined by performer"
	}
	return string(s)
}
