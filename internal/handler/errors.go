package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs-lzh/open-event/internal/service"
)

// writeError maps domain errors to status codes. Unknown errors are logged
// and hidden behind a generic 500.
func writeError(ctx *gin.Context, logger *zap.Logger, err error) {
	var paymentErr *service.PaymentError
	switch {
	case errors.Is(err, service.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "Not found"})
	case errors.Is(err, service.ErrForbidden):
		ctx.JSON(http.StatusForbidden, gin.H{"status": "error", "error": "Forbidden"})
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrInvalidDateRange),
		errors.Is(err, service.ErrInvalidTimezone):
		ctx.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Invalid request", "message": err.Error()})
	case errors.Is(err, service.ErrOrderAlreadyFinalized):
		ctx.JSON(http.StatusConflict, gin.H{"status": "error", "error": "Order already finalized",
			"message": "This order has already been completed or expired"})
	case errors.Is(err, service.ErrPaymentInProgress):
		ctx.JSON(http.StatusConflict, gin.H{"status": "error", "error": "Payment in progress",
			"message": "Another payment for this order is being processed, please wait"})
	case errors.Is(err, service.ErrAlreadyCheckedIn):
		ctx.JSON(http.StatusConflict, gin.H{"status": "error", "error": "Already checked in"})
	case errors.As(err, &paymentErr):
		if paymentErr.Err != nil {
			logger.Warn("payment failed", zap.String("gateway", string(paymentErr.Gateway)), zap.Error(paymentErr.Err))
		}
		ctx.JSON(http.StatusPaymentRequired, gin.H{"status": "error", "error": "Payment failed", "message": paymentErr.Message})
	default:
		logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"error":   "Internal server error",
			"message": "Failed to process request, please try again later",
		})
	}
}

func writeBindError(ctx *gin.Context, err error) {
	ctx.JSON(http.StatusBadRequest, gin.H{
		"status": "error",
		"error":  "Invalid request format",
		"detail": err.Error(),
	})
}
