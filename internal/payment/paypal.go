package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/plutov/paypal/v4"
)

// paypalNoDecimal lists the currencies PayPal rejects fractional values for.
var paypalNoDecimal = map[string]bool{"HUF": true, "JPY": true, "TWD": true}

// PayPalValue formats amount the way PayPal expects for currency.
func PayPalValue(amount float64, currency string) string {
	if paypalNoDecimal[strings.ToUpper(currency)] {
		return strconv.FormatFloat(math.Round(amount), 'f', 0, 64)
	}
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

type PayPalGateway struct {
	client *paypal.Client
}

func NewPayPalGateway(clientID, secret, apiBase string) (*PayPalGateway, error) {
	if clientID == "" || secret == "" {
		return nil, ErrNotConfigured
	}
	c, err := paypal.NewClient(clientID, secret, apiBase)
	if err != nil {
		return nil, fmt.Errorf("paypal: new client: %w", err)
	}
	return &PayPalGateway{client: c}, nil
}

func (g *PayPalGateway) token(ctx context.Context) error {
	if _, err := g.client.GetAccessToken(ctx); err != nil {
		return fmt.Errorf("paypal: access token: %w", err)
	}
	return nil
}

// CreateCheckout opens a PayPal order and returns the buyer approval link.
func (g *PayPalGateway) CreateCheckout(ctx context.Context, req PayPalCheckoutRequest) (*PayPalCheckout, error) {
	if err := g.token(ctx); err != nil {
		return nil, err
	}
	units := []paypal.PurchaseUnitRequest{{
		ReferenceID: req.ReferenceID,
		Description: req.Description,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: req.Currency,
			Value:    PayPalValue(req.Amount, req.Currency),
		},
	}}
	appCtx := &paypal.ApplicationContext{
		ReturnURL: req.ReturnURL,
		CancelURL: req.CancelURL,
	}
	order, err := g.client.CreateOrder(ctx, paypal.OrderIntentCapture, units, nil, appCtx)
	if err != nil {
		return nil, wrapPayPalError("create order", err)
	}
	for _, link := range order.Links {
		if link.Rel == "approve" {
			return &PayPalCheckout{OrderID: order.ID, RedirectURL: link.Href}, nil
		}
	}
	return nil, fmt.Errorf("paypal: order %s has no approve link", order.ID)
}

// Capture captures an approved PayPal order and returns the capture id.
func (g *PayPalGateway) Capture(ctx context.Context, paypalOrderID string) (string, error) {
	if err := g.token(ctx); err != nil {
		return "", err
	}
	res, err := g.client.CaptureOrder(ctx, paypalOrderID, paypal.CaptureOrderRequest{})
	if err != nil {
		return "", wrapPayPalError("capture order", err)
	}
	if res.Status != "COMPLETED" {
		return "", &DeclinedError{Message: fmt.Sprintf("payment is %s", res.Status)}
	}
	for _, unit := range res.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		for _, capture := range unit.Payments.Captures {
			if capture.ID != "" {
				return capture.ID, nil
			}
		}
	}
	return res.ID, nil
}

func wrapPayPalError(op string, err error) error {
	var resp *paypal.ErrorResponse
	if errors.As(err, &resp) && resp.Response != nil && resp.Response.StatusCode == 422 {
		return &DeclinedError{Message: resp.Message}
	}
	return fmt.Errorf("paypal: %s: %w", op, err)
}
