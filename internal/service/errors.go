package service

import (
	"errors"

	"evapos/internal/apierror"
	"evapos/internal/repository"
)

// Domain failures returned by the services. Handlers map them to HTTP through
// their apierror code; callers match them with errors.Is.
var (
	ErrSessionAlreadyOpen = apierror.NewError(apierror.CodeSessionAlreadyOpen, "Ya existe una sesión de caja abierta")
	ErrSessionClosed      = apierror.NewError(apierror.CodeSessionClosed, "La sesión de caja está cerrada")
	ErrNoOpenSession      = apierror.NewError(apierror.CodeNoOpenSession, "No hay una sesión de caja abierta")
	ErrSessionNotFound    = apierror.NewError(apierror.CodeNotFound, "Sesión de caja no encontrada")

	ErrSaleNotFound        = apierror.NewError(apierror.CodeNotFound, "Venta no encontrada")
	ErrSaleNotVoidable     = apierror.NewError(apierror.CodeSaleNotVoidable, "La venta no puede anularse")
	ErrSaleNotRefundable   = apierror.NewError(apierror.CodeSaleNotRefundable, "La venta no admite devoluciones")
	ErrSaleFullyRefunded   = apierror.NewError(apierror.CodeSaleFullyRefunded, "La venta ya fue devuelta por completo")
	ErrRefundExceeds       = apierror.NewError(apierror.CodeRefundExceedsBalance, "El importe supera el saldo devolvible de la venta")
	ErrOverRefundItem      = apierror.NewError(apierror.CodeOverRefundItem, "La cantidad a devolver supera la vendida")
	ErrInsufficientPayment = apierror.NewError(apierror.CodeInsufficientPayment, "El pago es insuficiente")
	ErrRefundNotFound      = apierror.NewError(apierror.CodeNotFound, "Devolución no encontrada")

	ErrVoucherNotFound  = apierror.NewError(apierror.CodeNotFound, "Vale no encontrado")
	ErrVoucherExpired   = apierror.NewError(apierror.CodeVoucherExpired, "El vale está caducado")
	ErrVoucherExhausted = apierror.NewError(apierror.CodeVoucherExhausted, "El vale no tiene saldo suficiente")

	ErrRecordNotFound      = apierror.NewError(apierror.CodeNotFound, "Registro fiscal no encontrado")
	ErrRecordAlreadyExists = apierror.NewError(apierror.CodeRecordAlreadyExists, "La venta ya tiene un registro fiscal")
	ErrRecordNotPending    = apierror.NewError(apierror.CodeRecordNotPending, "El registro fiscal no está pendiente de envío")
	ErrRecordNotAccepted   = apierror.NewError(apierror.CodeRecordNotAccepted, "El registro fiscal no está aceptado")
	ErrSubmissionFailed    = apierror.NewError(apierror.CodeSubmissionFailed, "No se pudo enviar el registro a la AEAT")
	ErrCertificateInvalid  = apierror.NewError(apierror.CodeCertificateInvalid, "Certificado no válido")
	ErrChainIntegrity      = apierror.NewError(apierror.CodeChainIntegrity, "Integridad de la cadena fiscal comprometida")
	ErrChainHalted         = apierror.NewError(apierror.CodeChainHalted, "La cadena fiscal está detenida hasta su conciliación")
	ErrFiscalDisabled      = apierror.NewError(apierror.CodeValidation, "Verifactu no está habilitado")
)

func validationError(msg string) error {
	return apierror.NewError(apierror.CodeValidation, msg)
}

// notFound turns gorm's ErrRecordNotFound into the given typed error and
// leaves any other failure untouched.
func notFound(err error, typed *apierror.Error) error {
	if repository.IsNotFound(err) {
		return typed
	}
	return err
}

func isCode(err error, code apierror.Code) bool {
	var e *apierror.Error
	return errors.As(err, &e) && e.Code() == code
}
