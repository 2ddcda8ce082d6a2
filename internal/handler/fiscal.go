package handler

import (
	"net/http"

	"evapos/internal/dto"
	"evapos/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// FiscalHandler serves /v1/fiscal-records.
type FiscalHandler struct{ svc service.FiscalService }

func NewFiscalHandler(svc service.FiscalService) *FiscalHandler { return &FiscalHandler{svc: svc} }

// Create godoc
// @Summary      Encadena el registro de facturación de una venta
// @Description  Para ventas cuyo registro no se generó al cobrar (por ejemplo con la cadena detenida).
// @Tags         verifactu
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.CreateFiscalRecordRequest true "Venta"
// @Success      201  {object} dto.FiscalRecordResponse
// @Failure      409  {object} apierror.APIError
// @Failure      423  {object} apierror.APIError
// @Router       /v1/fiscal-records [post]
func (h *FiscalHandler) Create(c *gin.Context) {
	var req dto.CreateFiscalRecordRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.CreateRecordFromSale(c.Request.Context(), uuid.MustParse(req.SaleID))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// List godoc
// @Summary      Listar registros de facturación
// @Tags         verifactu
// @Produce      json
// @Security     BearerAuth
// @Param        status       query string false "PENDING | SUBMITTED | ACCEPTED | REJECTED | CANCELLED"
// @Param        invoice_type query string false "standard | rectification"
// @Param        from         query string false "Desde (YYYY-MM-DD)"
// @Param        to           query string false "Hasta (YYYY-MM-DD)"
// @Param        page         query int    false "Página"
// @Param        limit        query int    false "Tamaño de página"
// @Success      200  {object} dto.FiscalRecordListResponse
// @Router       /v1/fiscal-records [get]
func (h *FiscalHandler) List(c *gin.Context) {
	var filter dto.FiscalRecordFilter
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

// Stats godoc
// @Summary      Registros por estado
// @Tags         verifactu
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object} dto.FiscalStatsResponse
// @Router       /v1/fiscal-records/stats [get]
func (h *FiscalHandler) Stats(c *gin.Context) {
	resp, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Verify godoc
// @Summary      Verifica la cadena de huellas
// @Description  Recalcula cada huella y enlace. Una rotura detiene la cadena hasta que se reanude.
// @Tags         verifactu
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object} dto.ChainVerificationResponse
// @Router       /v1/fiscal-records/verify [get]
func (h *FiscalHandler) Verify(c *gin.Context) {
	resp, err := h.svc.VerifyChain(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Resume godoc
// @Summary      Reanuda una cadena detenida
// @Tags         verifactu
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.ResumeChainRequest true "Nota de la intervención"
// @Success      200  {object} dto.ChainVerificationResponse
// @Failure      500  {object} apierror.APIError
// @Router       /v1/fiscal-records/resume [post]
func (h *FiscalHandler) Resume(c *gin.Context) {
	var req dto.ResumeChainRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Resume(c.Request.Context(), actorOf(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Certificate godoc
// @Summary      Estado del certificado de firma
// @Tags         verifactu
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object} dto.CertificateStatusResponse
// @Failure      502  {object} apierror.APIError
// @Router       /v1/fiscal-records/certificate [get]
func (h *FiscalHandler) Certificate(c *gin.Context) {
	resp, err := h.svc.ValidateCertificate(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Get godoc
// @Summary      Detalle de un registro
// @Tags         verifactu
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "UUID del registro"
// @Success      200  {object} dto.FiscalRecordResponse
// @Failure      404  {object} apierror.APIError
// @Router       /v1/fiscal-records/{id} [get]
func (h *FiscalHandler) Get(c *gin.Context) {
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

// Submit godoc
// @Summary      Envía un registro pendiente a la AEAT
// @Tags         verifactu
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "UUID del registro"
// @Success      200  {object} dto.FiscalRecordResponse
// @Failure      409  {object} apierror.APIError
// @Failure      502  {object} apierror.APIError
// @Router       /v1/fiscal-records/{id}/submit [post]
func (h *FiscalHandler) Submit(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Submit(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Cancel godoc
// @Summary      Anula un registro aceptado
// @Tags         verifactu
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path string                         true "UUID del registro"
// @Param        body body dto.CancelFiscalRecordRequest true "Motivo"
// @Success      200  {object} dto.FiscalRecordResponse
// @Failure      409  {object} apierror.APIError
// @Router       /v1/fiscal-records/{id}/cancel [post]
func (h *FiscalHandler) Cancel(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req dto.CancelFiscalRecordRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Cancel(c.Request.Context(), actorOf(c), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Rectify godoc
// @Summary      Emite una factura rectificativa
// @Tags         verifactu
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path string                    true "UUID del registro original"
// @Param        body body dto.RectificationRequest true "Motivo e importe"
// @Success      201  {object} dto.FiscalRecordResponse
// @Failure      409  {object} apierror.APIError
// @Failure      423  {object} apierror.APIError
// @Router       /v1/fiscal-records/{id}/rectify [post]
func (h *FiscalHandler) Rectify(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req dto.RectificationRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.CreateRectification(c.Request.Context(), actorOf(c), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}
