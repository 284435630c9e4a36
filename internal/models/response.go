package models

import "time"

type OrderResponse struct {
	ID               int64     `json:"order_id"`
	Description      string    `json:"description"`
	Status           Status    `json:"status"`
	StatusLabel      string    `json:"status_label"`
	RequesterID      int64     `json:"requester_id"`
	PerformerID      *int64    `json:"performer_id,omitempty"`
	ResultPhotoCount int       `json:"result_photo_count"`
	RevisionComment  string    `json:"revision_comment,omitempty"`
	DeclineReason    string    `json:"decline_reason,omitempty"`
	Photos           int       `json:"photos"`
	Recipients       int       `json:"recipients"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
