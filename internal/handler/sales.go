package handler

import (
	"net/http"

	"evapos/internal/dto"
	"evapos/internal/service"

	"github.com/gin-gonic/gin"
)

// SalesHandler serves /v1/sales.
type SalesHandler struct{ svc service.SaleService }

func NewSalesHandler(svc service.SaleService) *SalesHandler { return &SalesHandler{svc: svc} }

// Create godoc
// @Summary      Registrar una venta
// @Description  Crea una venta atómica: descuenta stock, liquida el cobro y encadena el registro Verifactu.
// @Description  Un fallo fiscal no deshace la venta; se informa en el bloque "fiscal".
// @Tags         ventas
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.CreateSaleRequest true "Detalle de la venta"
// @Success      201  {object} dto.SaleResponse
// @Failure      409  {object} apierror.APIError
// @Failure      422  {object} apierror.APIError
// @Router       /v1/sales [post]
func (h *SalesHandler) Create(c *gin.Context) {
	var req dto.CreateSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Create(c.Request.Context(), actorOf(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// List godoc
// @Summary      Listar ventas
// @Tags         ventas
// @Produce      json
// @Security     BearerAuth
// @Param        date       query string false "Día (YYYY-MM-DD)"
// @Param        status     query string false "Estado"
// @Param        session_id query string false "Sesión de caja"
// @Param        page       query int    false "Página"
// @Param        limit      query int    false "Tamaño de página"
// @Success      200  {object} dto.SaleListResponse
// @Router       /v1/sales [get]
func (h *SalesHandler) List(c *gin.Context) {
	var filter dto.SaleFilter
	if !bindQuery(c, &filter) {
		return
	}
	resp, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Get godoc
// @Summary      Detalle de una venta
// @Tags         ventas
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "UUID de la venta"
// @Success      200  {object} dto.SaleResponse
// @Failure      404  {object} apierror.APIError
// @Router       /v1/sales/{id} [get]
func (h *SalesHandler) Get(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetByNumber godoc
// @Summary      Buscar venta por número de ticket
// @Tags         ventas
// @Produce      json
// @Security     BearerAuth
// @Param        number path string true "Número de venta (V-YYYYMMDD-NNNN)"
// @Success      200  {object} dto.SaleResponse
// @Failure      404  {object} apierror.APIError
// @Router       /v1/sales/number/{number} [get]
func (h *SalesHandler) GetByNumber(c *gin.Context) {
	resp, err := h.svc.GetByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Void godoc
// @Summary      Anular venta
// @Description  Anula una venta de la sesión abierta y restaura el stock.
// @Tags         ventas
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path string              true "UUID de la venta"
// @Param        body body dto.VoidSaleRequest true "Motivo de anulación"
// @Success      200  {object} dto.SaleResponse
// @Failure      409  {object} apierror.APIError
// @Router       /v1/sales/{id}/void [post]
func (h *SalesHandler) Void(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req dto.VoidSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Void(c.Request.Context(), actorOf(c), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// MarkTicketPrinted godoc
// @Summary      Marca el ticket como impreso
// @Tags         ventas
// @Security     BearerAuth
// @Param        id path string true "UUID de la venta"
// @Success      204
// @Failure      404  {object} apierror.APIError
// @Router       /v1/sales/{id}/ticket-printed [post]
func (h *SalesHandler) MarkTicketPrinted(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.MarkTicketPrinted(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Ticket godoc
// @Summary      Ticket en PDF
// @Tags         ventas
// @Produce      application/pdf
// @Security     BearerAuth
// @Param        id path string true "UUID de la venta"
// @Success      200  {file} binary
// @Failure      404  {object} apierror.APIError
// @Router       /v1/sales/{id}/ticket.pdf [get]
func (h *SalesHandler) Ticket(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	pdf, err := h.svc.Ticket(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="ticket_`+id.String()+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}
