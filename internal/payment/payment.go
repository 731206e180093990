// Package payment talks to the Stripe and PayPal APIs.
package payment

import (
	"errors"
	"math"
	"strings"
)

// DeclinedError is a rejection by the gateway, as opposed to a transport or
// configuration failure. Message can be shown to the buyer.
type DeclinedError struct {
	Message string
}

func (e *DeclinedError) Error() string {
	return "payment declined: " + e.Message
}

var ErrNotConfigured = errors.New("payment gateway not configured")

// zeroDecimal lists the currencies Stripe charges in whole units.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

func IsZeroDecimal(currency string) bool {
	return zeroDecimal[strings.ToUpper(strings.TrimSpace(currency))]
}

// ToMinorUnits converts an amount in currency units to the smallest unit of
// currency: cents for most, whole units for zero-decimal currencies.
func ToMinorUnits(amount float64, currency string) int64 {
	if IsZeroDecimal(currency) {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

type StripeCharge struct {
	Amount   float64
	Currency string
	// PaymentMethodID is the payment method collected by Stripe.js
	PaymentMethodID string
	// ConnectedAccount is the organizer's Stripe account; empty charges the platform
	ConnectedAccount string
	Description      string
	// IdempotencyKey makes repeated charges of the same order a no-op at Stripe
	IdempotencyKey string
}

type StripeAccount struct {
	UserID         string
	AccessToken    string
	PublishableKey string
}

type PayPalCheckout struct {
	OrderID     string
	RedirectURL string
}

type PayPalCheckoutRequest struct {
	ReferenceID string
	Amount      float64
	Currency    string
	Description string
	ReturnURL   string
	CancelURL   string
}
