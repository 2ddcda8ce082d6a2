package handler

import (
	"net/http"

	"evapos/internal/dto"
	"evapos/internal/service"

	"github.com/gin-gonic/gin"
)

// CashSessionHandler serves /v1/cash-sessions.
type CashSessionHandler struct{ svc service.CashSessionService }

// NewCashSessionHandler creates a CashSessionHandler.
func NewCashSessionHandler(svc service.CashSessionService) *CashSessionHandler {
	return &CashSessionHandler{svc: svc}
}

// Open godoc
// @Summary Abre la sesión de caja
// @Tags caja
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.OpenSessionRequest true "Datos de apertura"
// @Success 201 {object} dto.CashSessionResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/cash-sessions [post]
func (h *CashSessionHandler) Open(c *gin.Context) {
	var req dto.OpenSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Open(c.Request.Context(), actorOf(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Current godoc
// @Summary Sesión de caja abierta
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.CashSessionResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/cash-sessions/current [get]
func (h *CashSessionHandler) Current(c *gin.Context) {
	resp, err := h.svc.Current(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// List godoc
// @Summary Historial de sesiones de caja
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Param page query int false "Página"
// @Param limit query int false "Tamaño de página"
// @Success 200 {object} dto.CashSessionListResponse
// @Router /v1/cash-sessions [get]
func (h *CashSessionHandler) List(c *gin.Context) {
	var q dto.PageQuery
	if !bindQuery(c, &q) {
		return
	}
	resp, err := h.svc.List(c.Request.Context(), q)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Get godoc
// @Summary Detalle y resumen de una sesión de caja
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de sesión"
// @Success 200 {object} dto.CashSessionDetailResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/cash-sessions/{id} [get]
func (h *CashSessionHandler) Get(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sess, err := h.svc.Get(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	summary, err := h.svc.Summary(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CashSessionDetailResponse{Session: *sess, Summary: *summary})
}

// RecordMovement godoc
// @Summary Registra una entrada o salida manual de efectivo
// @Tags caja
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de sesión"
// @Param body body dto.CashMovementRequest true "Movimiento"
// @Success 201 {object} dto.CashMovementResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/cash-sessions/{id}/movements [post]
func (h *CashSessionHandler) RecordMovement(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req dto.CashMovementRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.RecordMovement(c.Request.Context(), actorOf(c), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Close godoc
// @Summary Cierra la sesión con el arqueo contado
// @Tags caja
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de sesión"
// @Param body body dto.CloseSessionRequest true "Arqueo"
// @Success 200 {object} dto.CloseSessionResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/cash-sessions/{id}/close [post]
func (h *CashSessionHandler) Close(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req dto.CloseSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Close(c.Request.Context(), actorOf(c), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
