package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"photo-orders-bot/internal/models"
	"photo-orders-bot/internal/workflow"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ReportsHandler struct {
	reports workflow.ReportGenerator
}

func NewReportsHandler(reports workflow.ReportGenerator) *ReportsHandler {
	return &ReportsHandler{reports: reports}
}

// Completed godoc
// @Summary     Completed orders report
// @Description Builds the completed-orders workbook (requesters and performers by month and by day)
// @Tags        reports
// @Produce     application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security    Bearer
// @Success     200 {file} binary
// @Failure     500 {object} models.ErrorResponse
// @Router      /api/v1/reports/completed [get]
func (h *ReportsHandler) Completed(c *gin.Context) {
	name, data, err := h.reports.Generate(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to generate report", Message: err.Error()})
		return
	}
	sendWorkbook(c, name, data)
}

// Requester godoc
// @Summary     Requester report
// @Description Builds the monthly completed-orders workbook of one requester
// @Tags        reports
// @Produce     application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security    Bearer
// @Param       telegram_id path int true "Requester Telegram ID"
// @Success     200 {file} binary
// @Failure     400 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /api/v1/reports/requesters/{telegram_id} [get]
func (h *ReportsHandler) Requester(c *gin.Context) {
	platformID, err := strconv.ParseInt(c.Param("telegram_id"), 10, 64)
	if err != nil || platformID <= 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid telegram id"})
		return
	}

	name, data, err := h.reports.GenerateFor(c.Request.Context(), platformID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to generate report", Message: err.Error()})
		return
	}
	sendWorkbook(c, name, data)
}

func sendWorkbook(c *gin.Context, name string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, xlsxContentType, data)
}
