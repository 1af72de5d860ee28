package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/franzego/dispatchd/internal/dispatch"
	"github.com/franzego/dispatchd/internal/models"
)

const defaultStatsWindow = 24 * time.Hour

type NotificationHandler struct {
	svc *dispatch.Service
}

func NewNotificationHandler(svc *dispatch.Service) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

func (h *NotificationHandler) Create(c *gin.Context) {
	var req models.CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	n, err := h.svc.Create(c.Request.Context(), dispatch.CreateInput{
		TemplateName: req.TemplateName,
		Recipient:    req.Recipient,
		Context:      req.Context,
		Priority:     models.Priority(req.Priority),
		ScheduledAt:  req.ScheduledAt,
		CustomerID:   req.CustomerID,
		OrderID:      req.OrderID,
		MaxRetries:   req.MaxRetries,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, "Notification accepted", models.NotificationResponse{
		NotificationID: n.ID,
		Channel:        n.Channel,
		Status:         string(n.Status),
		ScheduledAt:    n.ScheduledAt,
	})
}

func (h *NotificationHandler) CreateBulk(c *gin.Context) {
	var req models.BulkNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	recipients := make([]dispatch.BulkRecipient, len(req.Recipients))
	for i, r := range req.Recipients {
		recipients[i] = dispatch.BulkRecipient{Recipient: r.Recipient, Context: r.Context}
	}
	res := h.svc.SendBulk(c.Request.Context(), req.TemplateName, recipients, req.Context, models.Priority(req.Priority))

	body := models.BulkNotificationResponse{
		Created:  res.CreatedIDs(),
		Rejected: len(res.Rejected),
	}
	for _, r := range res.Rejected {
		body.Errors = append(body.Errors, models.BulkRejection{
			Index:     r.Index,
			Recipient: r.Recipient,
			Reason:    r.Err.Error(),
		})
	}

	status := http.StatusCreated
	if len(body.Created) == 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, models.APIResponse{
		Success: len(body.Created) > 0,
		Data:    body,
		Message: strconv.Itoa(len(body.Created)) + " created, " + strconv.Itoa(body.Rejected) + " rejected",
	})
}

func (h *NotificationHandler) Get(c *gin.Context) {
	n, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Notification found", toStatus(n))
}

func (h *NotificationHandler) Logs(c *gin.Context) {
	logs, err := h.svc.Logs(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Delivery attempts", logs)
}

// ConfirmDelivery is called by provider webhooks once a message is confirmed
// delivered.
func (h *NotificationHandler) ConfirmDelivery(c *gin.Context) {
	n, err := h.svc.ConfirmDelivery(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Delivery confirmed", toStatus(n))
}

func (h *NotificationHandler) Cancel(c *gin.Context) {
	var req models.CancelRequest
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	n, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Notification cancelled", toStatus(n))
}

// Stats reports delivery counts for the last ?hours= hours (default 24).
func (h *NotificationHandler) Stats(c *gin.Context) {
	window := defaultStatsWindow
	if raw := c.Query("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			badRequest(c, errInvalidQuery("hours"))
			return
		}
		window = time.Duration(hours) * time.Hour
	}

	stats, err := h.svc.Stats(c.Request.Context(), time.Now().UTC().Add(-window))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Delivery statistics", stats)
}

func (h *NotificationHandler) CustomerHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			badRequest(c, errInvalidQuery("limit"))
			return
		}
		limit = v
	}

	history, err := h.svc.CustomerHistory(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]models.NotificationStatus, len(history))
	for i := range history {
		out[i] = toStatus(&history[i])
	}
	respond(c, http.StatusOK, "Customer notifications", out)
}

func toStatus(n *models.Notification) models.NotificationStatus {
	return models.NotificationStatus{
		ID:           n.ID,
		Channel:      n.Channel,
		Status:       string(n.Status),
		RetryCount:   n.RetryCount,
		MaxRetries:   n.MaxRetries,
		ErrorMessage: n.ErrorMessage,
		SentAt:       n.SentAt,
		DeliveredAt:  n.DeliveredAt,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}
}
