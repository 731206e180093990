package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs-lzh/open-event/internal/app"
	"github.com/qs-lzh/open-event/internal/middleware"
	"github.com/qs-lzh/open-event/internal/model"
	"github.com/qs-lzh/open-event/internal/service"
	"github.com/qs-lzh/open-event/internal/service/domain"
)

type OrderHandler struct {
	app *app.App
}

func NewOrderHandler(app *app.App) *OrderHandler {
	return &OrderHandler{
		app: app,
	}
}

func (h *OrderHandler) HandleCreate(ctx *gin.Context) {
	var req domain.CreateOrderInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		writeBindError(ctx, err)
		return
	}

	order, err := h.app.OrderService.CreateOrder(ctx.Request.Context(), req)
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"identifier": order.Identifier,
		"status":     order.Status,
		"amount":     order.Amount,
		"expires_at": order.ExpiresAt,
	})
}

// HandleShow is the checkout page of an order that is not yet paid.
func (h *OrderHandler) HandleShow(ctx *gin.Context) {
	order, err := h.app.OrderService.GetAndSetExpiry(ctx.Request.Context(), ctx.Param("identifier"))
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	if order.Status == model.OrderExpired {
		writeError(ctx, h.app.Logger, service.ErrNotFound)
		return
	}
	if order.Status.Paid() {
		ctx.Redirect(http.StatusFound, "/orders/"+order.Identifier+"/view/")
		return
	}
	ctx.JSON(http.StatusOK, orderView(order))
}

// HandleView shows a paid order.
func (h *OrderHandler) HandleView(ctx *gin.Context) {
	order, err := h.app.OrderService.GetAndSetExpiry(ctx.Request.Context(), ctx.Param("identifier"))
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	if !order.Status.Paid() {
		writeError(ctx, h.app.Logger, service.ErrNotFound)
		return
	}
	ctx.JSON(http.StatusOK, orderView(order))
}

func orderView(order *model.Order) gin.H {
	view := gin.H{
		"identifier":     order.Identifier,
		"invoice_number": order.InvoiceNumber(),
		"status":         order.Status,
		"amount":         order.Amount,
		"discount_code":  order.DiscountCode,
		"paid_via":       order.PaidVia,
		"tickets":        order.Tickets,
		"expires_at":     order.ExpiresAt,
		"completed_at":   order.CompletedAt,
	}
	if order.Event != nil {
		view["event"] = gin.H{
			"identifier": order.Event.Identifier,
			"name":       order.Event.Name,
			"currency":   order.Event.PaymentCurrency,
		}
	}
	if order.User != nil {
		view["email"] = order.User.Email
	}
	return view
}

type applyPromoRequest struct {
	EventID   uint   `json:"event_id" form:"event_id" binding:"required"`
	PromoCode string `json:"promo_code" form:"promo_code" binding:"required"`
}

func (h *OrderHandler) HandleApplyPromo(ctx *gin.Context) {
	var req applyPromoRequest
	if err := ctx.ShouldBind(&req); err != nil {
		writeBindError(ctx, err)
		return
	}

	promo, err := h.app.OrderService.ApplyPromo(ctx.Request.Context(), req.EventID, req.PromoCode)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			ctx.JSON(http.StatusOK, gin.H{"discount_status": false, "access_status": false})
			return
		}
		writeError(ctx, h.app.Logger, err)
		return
	}

	resp := gin.H{
		"discount_status": promo.Discount != nil,
		"access_status":   promo.Access != nil,
		"ticket_ids":      promo.TicketIDs,
	}
	if promo.Discount != nil {
		resp["discount_type"] = promo.Discount.Type
		resp["discount_amount"] = promo.Discount.Value
	}
	ctx.JSON(http.StatusOK, resp)
}

type initiatePaymentRequest struct {
	domain.InitiatePaymentInput
	PayVia string `json:"pay_via_service"`
}

func (h *OrderHandler) HandleInitiatePayment(ctx *gin.Context) {
	var req initiatePaymentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		writeBindError(ctx, err)
		return
	}
	method := model.PaymentMethod(req.PayVia)
	if method == "" {
		method = model.PayViaStripe
	}

	result, err := h.app.PaymentService.InitiatePayment(ctx.Request.Context(), req.InitiatePaymentInput, method)
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}

	resp := gin.H{
		"status": "ok",
		"email":  result.Email,
		"action": result.Action,
	}
	if result.RedirectURL != "" {
		resp["redirect_url"] = result.RedirectURL
	}
	ctx.JSON(http.StatusOK, resp)
}

type chargeRequest struct {
	domain.ChargePayload
	PayVia string `json:"pay_via_service"`
}

func (h *OrderHandler) HandleCharge(ctx *gin.Context) {
	var req chargeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		writeBindError(ctx, err)
		return
	}
	method := model.PaymentMethod(req.PayVia)
	if method == "" {
		method = model.PayViaStripe
	}

	result, err := h.app.PaymentService.Charge(ctx.Request.Context(), method, req.ChargePayload)
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"message":        result.TransactionID,
		"transaction_id": result.TransactionID,
		"identifier":     result.Order.Identifier,
	})
}

func (h *OrderHandler) HandleExpire(ctx *gin.Context) {
	_, err := h.app.OrderService.GetAndSetExpiry(ctx.Request.Context(), ctx.Param("identifier"))
	if err != nil && !errors.Is(err, service.ErrNotFound) {
		writeError(ctx, h.app.Logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandlePayPalCallback is where PayPal sends the buyer back after checkout.
func (h *OrderHandler) HandlePayPalCallback(ctx *gin.Context) {
	identifier := ctx.Param("identifier")
	switch ctx.Param("function") {
	case "cancel":
		order, err := h.app.PaymentService.CancelPayPal(ctx.Request.Context(), identifier)
		if err != nil {
			writeError(ctx, h.app.Logger, err)
			return
		}
		resp := gin.H{"status": "cancelled", "identifier": order.Identifier}
		if order.Event != nil {
			resp["event"] = order.Event.Identifier
		}
		ctx.JSON(http.StatusOK, resp)
	case "success":
		result, err := h.app.PaymentService.Charge(ctx.Request.Context(), model.PayViaPayPal, domain.ChargePayload{
			Identifier:    identifier,
			PayPalOrderID: ctx.Query("token"),
		})
		if err != nil {
			writeError(ctx, h.app.Logger, err)
			return
		}
		ctx.Redirect(http.StatusFound, "/orders/"+result.Order.Identifier+"/view/")
	default:
		writeError(ctx, h.app.Logger, service.ErrNotFound)
	}
}

// HandleStripeCallback completes Stripe Connect for the event named in state.
func (h *OrderHandler) HandleStripeCallback(ctx *gin.Context) {
	viewer, _ := middleware.UserID(ctx)
	event, err := h.app.PaymentService.ConnectStripe(ctx.Request.Context(), ctx.Query("state"), ctx.Query("code"), viewer)
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":                 "ok",
		"event":                  event.Identifier,
		"stripe_user_id":         event.StripeUserID,
		"stripe_publishable_key": event.StripePublishableKey,
	})
}

// HandleHolderQR serves a ticket's QR code under its order's identifier.
func (h *OrderHandler) HandleHolderQR(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		writeError(ctx, h.app.Logger, service.ErrNotFound)
		return
	}
	qr, err := h.app.TicketHolderService.QRCode(ctx.Request.Context(), ctx.Param("identifier"), uint(id))
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"qr_code": qr})
}

type checkInRequest struct {
	Payload string `json:"payload" binding:"required"`
}

func (h *OrderHandler) HandleCheckIn(ctx *gin.Context) {
	var req checkInRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		writeBindError(ctx, err)
		return
	}
	viewer, _ := middleware.UserID(ctx)
	holder, err := h.app.TicketHolderService.CheckIn(ctx.Request.Context(), viewer, req.Payload)
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"holder_id":  holder.ID,
		"name":       holder.Name(),
		"checked_in": holder.CheckedIn,
	})
}
