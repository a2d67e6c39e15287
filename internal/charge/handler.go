package charge

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nudge/internal/logger"
	"nudge/pkg/errors"
)

type Handler struct {
	service Service
	log     logger.Logger
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{service: service, log: log}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		charges := v1.Group("/charges")
		{
			charges.GET("", h.ListCharges)
			charges.POST("", h.CreateCharge)
			charges.GET("/:id", h.GetCharge)
			charges.POST("/:id/reprocess", h.ReprocessCharge)
			charges.POST("/:id/cancel", h.CancelCharge)
		}

		v1.POST("/rules/:id/validate-payload", h.ValidatePayload)
	}

	// Public per-rule ingestion endpoint, identified by webhook token.
	router.POST("/hooks/charges/:token", h.IngestCharge)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.log.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

// ListCharges godoc
// @Summary      List charges
// @Description  List charges filtered by tenant, rule or status
// @Tags         charges
// @Produce      json
// @Param        tenant_id  query     string  false  "Tenant ID"
// @Param        rule_id    query     string  false  "Rule ID"
// @Param        status     query     string  false  "Charge status"
// @Param        limit      query     int     false  "Page size"
// @Param        offset     query     int     false  "Page offset"
// @Success      200        {array}   Charge
// @Failure      500        {object}  errors.ErrorResponse
// @Router       /charges [get]
func (h *Handler) ListCharges(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	charges, err := h.service.List(c.Request.Context(), ListFilter{
		TenantID: c.Query("tenant_id"),
		RuleID:   c.Query("rule_id"),
		Status:   Status(c.Query("status")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, charges)
}

// CreateCharge godoc
// @Summary      Create a charge
// @Description  Validate the payload against the rule, compute the dispatch time and persist a pending charge
// @Tags         charges
// @Accept       json
// @Produce      json
// @Param        charge  body      CreateChargeRequest  true  "Charge data"
// @Success      201     {object}  Charge
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      422     {object}  errors.ErrorResponse
// @Router       /charges [post]
func (h *Handler) CreateCharge(c *gin.Context) {
	var req CreateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	charge, err := h.service.Create(c.Request.Context(), req, "api")
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, charge)
}

// IngestCharge godoc
// @Summary      Ingest a charge through a rule webhook
// @Description  Create a charge against the rule identified by the URL token
// @Tags         charges
// @Accept       json
// @Produce      json
// @Param        token   path      string               true  "Rule webhook token"
// @Param        charge  body      IngestChargeRequest  true  "Charge data"
// @Success      201     {object}  Charge
// @Failure      404     {object}  errors.ErrorResponse
// @Failure      422     {object}  errors.ErrorResponse
// @Router       /hooks/charges/{token} [post]
func (h *Handler) IngestCharge(c *gin.Context) {
	var req IngestChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	charge, err := h.service.Ingest(c.Request.Context(), c.Param("token"), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, charge)
}

// GetCharge godoc
// @Summary      Get a charge
// @Tags         charges
// @Produce      json
// @Param        id   path      string  true  "Charge ID"
// @Success      200  {object}  Charge
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /charges/{id} [get]
func (h *Handler) GetCharge(c *gin.Context) {
	charge, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, charge)
}

// ReprocessCharge godoc
// @Summary      Reprocess a failed charge
// @Description  Move a failed charge below the attempt cap back to pending
// @Tags         charges
// @Produce      json
// @Param        id   path      string  true  "Charge ID"
// @Success      200  {object}  Charge
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Router       /charges/{id}/reprocess [post]
func (h *Handler) ReprocessCharge(c *gin.Context) {
	charge, err := h.service.Reprocess(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, charge)
}

// CancelCharge godoc
// @Summary      Cancel a charge
// @Description  Cancel a non-terminal charge; no further dispatch attempts happen
// @Tags         charges
// @Produce      json
// @Param        id   path      string  true  "Charge ID"
// @Success      200  {object}  Charge
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Router       /charges/{id}/cancel [post]
func (h *Handler) CancelCharge(c *gin.Context) {
	charge, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, charge)
}

type validatePayloadRequest struct {
	Payload map[string]interface{} `json:"payload" binding:"required"`
}

type validatePayloadResponse struct {
	OK               bool     `json:"ok"`
	MissingVariables []string `json:"missing_variables,omitempty"`
}

// ValidatePayload godoc
// @Summary      Validate a payload against a rule
// @Description  Report every missing template variable at once without creating a charge
// @Tags         charges
// @Accept       json
// @Produce      json
// @Param        id       path      string                  true  "Rule ID"
// @Param        payload  body      validatePayloadRequest  true  "Payload to validate"
// @Success      200      {object}  validatePayloadResponse
// @Failure      404      {object}  errors.ErrorResponse
// @Router       /rules/{id}/validate-payload [post]
func (h *Handler) ValidatePayload(c *gin.Context) {
	var req validatePayloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	missing, err := h.service.ValidatePayload(c.Request.Context(), c.Param("id"), req.Payload)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, validatePayloadResponse{
		OK:               len(missing) == 0,
		MissingVariables: missing,
	})
}
