package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportRow is one completed order joined with both parties.
type ReportRow struct {
	OrderID             int64
	CreatedAt           time.Time
	ResultPhotoCount    int
	RequesterID         int64
	RequesterPlatformID int64
	RequesterName       string
	RequesterSurname    string
	RequesterAddress    string
	PerformerID         int64
	PerformerName       string
	OrderPrice          decimal.Decimal
}
