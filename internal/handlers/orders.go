package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"photo-orders-bot/internal/models"
)

type OrderReader interface {
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	ListOrderPhotos(ctx context.Context, orderID int64) ([]models.OrderPhoto, error)
	ListMessageIndices(ctx context.Context, orderID int64) ([]models.MessageIndex, error)
}

type OrdersHandler struct {
	store OrderReader
}

func NewOrdersHandler(store OrderReader) *OrdersHandler {
	return &OrdersHandler{store: store}
}

// GetOrder godoc
// @Summary     Get order
// @Description Returns the stored status of an order with its photo and broadcast counts
// @Tags        orders
// @Produce     json
// @Security    Bearer
// @Param       order_id path int true "Order ID"
// @Success     200 {object} models.OrderResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /api/v1/orders/{order_id} [get]
func (h *OrdersHandler) GetOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid order id"})
		return
	}

	ctx := c.Request.Context()
	order, err := h.store.GetOrder(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "order not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to get order", Message: err.Error()})
		return
	}

	photos, err := h.store.ListOrderPhotos(ctx, orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list photos", Message: err.Error()})
		return
	}
	indices, err := h.store.ListMessageIndices(ctx, orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list messages", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order, len(photos), len(indices)))
}

func toOrderResponse(o *models.Order, photos, recipients int) models.OrderResponse {
	resp := models.OrderResponse{
		ID:               o.ID,
		Description:      o.Description,
		Status:           o.Status,
		StatusLabel:      o.Status.Label(),
		RequesterID:      o.RequesterID,
		ResultPhotoCount: o.ResultPhotoCount,
		RevisionComment:  o.RevisionComment.String,
		DeclineReason:    o.DeclineReason.String,
		Photos:           photos,
		Recipients:       recipients,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	if o.PerformerID.Valid {
		id := o.PerformerID.Int64
		resp.PerformerID = &id
	}
	return resp
}
