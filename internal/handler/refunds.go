package handler

import (
	"net/http"

	"evapos/internal/dto"
	"evapos/internal/service"

	"github.com/gin-gonic/gin"
)

// RefundsHandler serves /v1/refunds.
type RefundsHandler struct{ svc service.RefundService }

func NewRefundsHandler(svc service.RefundService) *RefundsHandler { return &RefundsHandler{svc: svc} }

// Create godoc
// @Summary      Devolución sobre una venta
// @Description  Devuelve un importe en efectivo, tarjeta o vale. Si se indican líneas, repone su stock.
// @Tags         devoluciones
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path string                  true "UUID de la venta"
// @Param        body body dto.CreateRefundRequest true "Devolución"
// @Success      201  {object} dto.RefundResponse
// @Failure      409  {object} apierror.APIError
// @Router       /v1/sales/{id}/refunds [post]
func (h *RefundsHandler) Create(c *gin.Context) {
	saleID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req dto.CreateRefundRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Create(c.Request.Context(), actorOf(c), saleID, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// ListBySale godoc
// @Summary      Devoluciones de una venta
// @Tags         devoluciones
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "UUID de la venta"
// @Success      200  {array} dto.RefundResponse
// @Router       /v1/sales/{id}/refunds [get]
func (h *RefundsHandler) ListBySale(c *gin.Context) {
	saleID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.ListBySale(c.Request.Context(), saleID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Get godoc
// @Summary      Detalle de una devolución
// @Tags         devoluciones
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "UUID de la devolución"
// @Success      200  {object} dto.RefundResponse
// @Failure      404  {object} apierror.APIError
// @Router       /v1/refunds/{id} [get]
func (h *RefundsHandler) Get(c *gin.Context) {
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

// GetVoucher godoc
// @Summary      Consulta un vale
// @Tags         vales
// @Produce      json
// @Security     BearerAuth
// @Param        code path string true "Código del vale"
// @Success      200  {object} dto.VoucherResponse
// @Failure      404  {object} apierror.APIError
// @Router       /v1/vouchers/{code} [get]
func (h *RefundsHandler) GetVoucher(c *gin.Context) {
	resp, err := h.svc.GetVoucher(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RedeemVoucher godoc
// @Summary      Canjea saldo de un vale
// @Tags         vales
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        code path string                   true "Código del vale"
// @Param        body body dto.RedeemVoucherRequest true "Importe a canjear"
// @Success      200  {object} dto.VoucherResponse
// @Failure      409  {object} apierror.APIError
// @Router       /v1/vouchers/{code}/redeem [post]
func (h *RefundsHandler) RedeemVoucher(c *gin.Context) {
	var req dto.RedeemVoucherRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.RedeemVoucher(c.Request.Context(), actorOf(c), c.Param("code"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
