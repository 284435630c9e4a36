package workflow

import (
	"context"
	"time"

	"photo-orders-bot/internal/models"
)

// Store is the durable state the coordinator reads and writes. TryTransition
// is the only way order status changes.
type Store interface {
	ResolveActor(ctx context.Context, platformID int64) (models.Actor, error)
	GetRequester(ctx context.Context, id int64) (*models.Requester, error)
	GetPerformer(ctx context.Context, id int64) (*models.Performer, error)
	ListPerformers(ctx context.Context) ([]models.Performer, error)

	CreateOrder(ctx context.Context, requesterID int64, description string, photoRefs []string) (int64, error)
	TryTransition(ctx context.Context, orderID int64, expected, next models.Status, m models.Mutation) (bool, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	ListOrderPhotos(ctx context.Context, orderID int64) ([]models.OrderPhoto, error)
	ListOrdersByStatus(ctx context.Context, status models.Status) ([]models.Order, error)
	ListRequesterOrders(ctx context.Context, requesterID int64, status models.Status) ([]models.Order, error)
	CountActiveOrdersForPerformer(ctx context.Context, performerID int64) (int, error)
	ListOverdueUnclaimedOrders(ctx context.Context, createdBefore time.Time) ([]models.Order, error)

	ListMessageIndices(ctx context.Context, orderID int64) ([]models.MessageIndex, error)
	RecordMessageIndex(ctx context.Context, orderID, performerID int64, ref models.MessageRef) error

	UpsertPendingInteraction(ctx context.Context, p models.PendingInteraction) error
	GetPendingInteraction(ctx context.Context, orderID int64) (*models.PendingInteraction, error)
	DeletePendingInteraction(ctx context.Context, orderID int64) error
}

// Notifier delivers messages over the chat transport.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string, controls *models.Controls) (models.MessageRef, error)
	EditText(ctx context.Context, ref models.MessageRef, text string, controls *models.Controls) error
	SendPhotoGroup(ctx context.Context, chatID int64, photoRefs []string, caption string) error
	AckCallback(ctx context.Context, callbackID, text string, alert bool) error
	SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) error
}
