package delivery

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"nudge/internal/broker"
	"nudge/internal/config"
	"nudge/internal/logger"
	"nudge/pkg/errors"
	"nudge/pkg/metrics"
	"nudge/pkg/models"
)

// Handler exposes the provider callback endpoint and the delivery query API.
// Callbacks are acknowledged as soon as they are on the broker; the tracker
// consumes them asynchronously so a slow database never backs up a provider.
type Handler struct {
	repo     Repository
	producer broker.Producer
	topics   config.KafkaConfig
	log      logger.Logger
}

func NewHandler(repo Repository, producer broker.Producer, topics config.KafkaConfig, log logger.Logger) *Handler {
	return &Handler{repo: repo, producer: producer, topics: topics, log: log}
}

func (h *Handler) RegisterRoutes(router *gin.Engine, webhookMiddleware ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1")
	{
		deliveries := v1.Group("/deliveries")
		{
			deliveries.GET("/:id", h.GetRecord)
			deliveries.GET("/:id/events", h.ListEvents)
		}

		v1.GET("/charges/:id/deliveries", h.ListByCharge)
	}

	webhooks := router.Group("/webhooks", webhookMiddleware...)
	{
		webhooks.POST("/delivery", h.ReceiveCallback)
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.log.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

// ReceiveCallback godoc
// @Summary      Receive a provider delivery callback
// @Description  Accept an asynchronous delivery/engagement event from a channel provider and queue it for processing
// @Tags         deliveries
// @Accept       json
// @Produce      json
// @Param        callback  body      Callback  true  "Provider event"
// @Success      202       {object}  map[string]string
// @Failure      400       {object}  errors.ErrorResponse
// @Router       /webhooks/delivery [post]
func (h *Handler) ReceiveCallback(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	var cb Callback
	if err := json.Unmarshal(raw, &cb); err != nil || cb.Event == "" || cb.ProviderMessageID == "" {
		metrics.CallbacksTotal.WithLabelValues("unknown", "malformed").Inc()
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithDetail("message", "event and message_id are required")))
		return
	}

	cb.IP = c.ClientIP()
	cb.UserAgent = c.Request.UserAgent()

	msg := models.NewMessageEnvelopeBuilder().
		WithID(uuid.New().String()).
		WithSource("api-service").
		WithType(models.EventTypeCallbackReceived).
		WithTimestamp(time.Now()).
		WithPayload(map[string]interface{}{
			"callback": cb,
			"raw_body": string(raw),
		}).
		Build()

	if err := h.producer.Publish(c.Request.Context(), h.topics.CallbackTopic, *msg); err != nil {
		h.handleError(c, errors.Wrap(err, errors.ErrServiceUnavailable))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// GetRecord godoc
// @Summary      Get a delivery record
// @Tags         deliveries
// @Produce      json
// @Param        id   path      string  true  "Delivery record ID"
// @Success      200  {object}  Record
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /deliveries/{id} [get]
func (h *Handler) GetRecord(c *gin.Context) {
	record, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// ListEvents godoc
// @Summary      List a delivery record's status timeline
// @Description  Return the append-only status event history, oldest first
// @Tags         deliveries
// @Produce      json
// @Param        id   path      string  true  "Delivery record ID"
// @Success      200  {array}   StatusEvent
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /deliveries/{id}/events [get]
func (h *Handler) ListEvents(c *gin.Context) {
	events, err := h.repo.ListEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// ListByCharge godoc
// @Summary      List delivery records for a charge
// @Tags         deliveries
// @Produce      json
// @Param        id   path      string  true  "Charge ID"
// @Success      200  {array}   Record
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /charges/{id}/deliveries [get]
func (h *Handler) ListByCharge(c *gin.Context) {
	records, err := h.repo.ListByCharge(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}
