package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api}
}

// Charge creates and confirms a PaymentIntent and returns its id.
func (g *StripeGateway) Charge(ctx context.Context, req StripeCharge) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(ToMinorUnits(req.Amount, req.Currency)),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod:      stripe.String(req.PaymentMethodID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
		Description:        stripe.String(req.Description),
	}
	params.Context = ctx
	if req.ConnectedAccount != "" {
		params.SetStripeAccount(req.ConnectedAccount)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			return "", &DeclinedError{Message: stripeErr.Msg}
		}
		return "", fmt.Errorf("stripe: create payment intent: %w", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return "", &DeclinedError{Message: fmt.Sprintf("payment is %s", pi.Status)}
	}
	return pi.ID, nil
}

// ConnectAccount exchanges a Connect OAuth authorization code for the
// organizer's account credentials.
func (g *StripeGateway) ConnectAccount(ctx context.Context, code string) (*StripeAccount, error) {
	params := &stripe.OAuthTokenParams{
		GrantType: stripe.String("authorization_code"),
		Code:      stripe.String(code),
	}
	params.Context = ctx
	token, err := g.api.OAuth.New(params)
	if err != nil {
		var oauthErr *stripe.Error
		if errors.As(err, &oauthErr) && oauthErr.OAuthError != "" {
			return nil, &DeclinedError{Message: oauthErr.OAuthErrorDescription}
		}
		return nil, fmt.Errorf("stripe: oauth token: %w", err)
	}
	return &StripeAccount{
		UserID:         token.StripeUserID,
		AccessToken:    token.AccessToken,
		PublishableKey: token.StripePublishableKey,
	}, nil
}
