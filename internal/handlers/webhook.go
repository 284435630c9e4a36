package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"photo-orders-bot/internal/models"
	"photo-orders-bot/internal/telegram"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

type WebhookHandler struct {
	secret string
	sink   telegram.Sink
	logger logrus.FieldLogger
}

func NewWebhookHandler(secret string, sink telegram.Sink, logger logrus.FieldLogger) *WebhookHandler {
	return &WebhookHandler{
		secret: secret,
		sink:   sink,
		logger: logger.WithField("module", "webhook"),
	}
}

// HandleUpdate godoc
// @Summary     Telegram webhook endpoint
// @Description Receives bot updates pushed by Telegram. Verified with the secret token header.
// @Tags        webhooks
// @Accept      json
// @Produce     json
// @Param       X-Telegram-Bot-Api-Secret-Token header string false "Secret token registered with setWebhook"
// @Success     200 {object} map[string]string "status"
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /telegram/webhook [post]
func (h *WebhookHandler) HandleUpdate(c *gin.Context) {
	if h.secret != "" {
		got := c.GetHeader(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "invalid secret token"})
			return
		}
	}

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to parse update", Message: err.Error()})
		return
	}

	// Events are processed after the response; Telegram retries slow webhooks.
	telegram.Deliver(context.WithoutCancel(c.Request.Context()), h.sink, update, h.logger)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
