package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleUnknown   Role = ""
	RoleRequester Role = "requester"
	RolePerformer Role = "performer"
)

// Actor is a platform identity resolved against the directory tables.
type Actor struct {
	PlatformID int64
	Role       Role
	ID         int64
	Name       string
	Banned     bool
}

type Requester struct {
	ID         int64
	PlatformID int64
	Name       string
	Surname    string
	Address    string
	Banned     bool
	CreatedAt  time.Time
}

func (r Requester) FullName() string {
	if r.Surname == "" {
		return r.Name
	}
	return r.Name + " " + r.Surname
}

type Performer struct {
	ID         int64
	PlatformID int64
	Name       string
	OrderPrice decimal.Decimal
	CreatedAt  time.Time
}
