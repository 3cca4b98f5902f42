package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/payment"
)

const formContentType = "application/x-www-form-urlencoded"

// Gateway is a client of a Stripe-compatible payment intents API.
type Gateway struct {
	base
	secretKey string
}

var _ payment.Gateway = (*Gateway)(nil)

// NewGateway creates a gateway client authenticating with secretKey.
func NewGateway(cfg Config, secretKey string) *Gateway {
	return &Gateway{base: newBase("payment gateway", cfg), secretKey: secretKey}
}

// Authorize creates and confirms a payment intent. A declined card is not an
// error: the returned charge has status failed.
func (g *Gateway) Authorize(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", req.Currency)
	form.Set("confirm", "true")
	form.Set("metadata[consumer_id]", req.ConsumerID)

	resp, err := g.do(ctx, http.MethodPost, "/v1/payment_intents", formContentType, []byte(form.Encode()), g.secretKey)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusPaymentRequired {
		ge, err := decodeGatewayError(jx.DecodeBytes(resp.body))
		if err != nil || ge.intent == nil || ge.intent.ID == "" {
			return nil, g.unexpected(resp, "authorize")
		}
		ge.intent.Status = payment.StatusFailed
		return ge.intent, nil
	}
	if !resp.ok() {
		return nil, g.unexpected(resp, "authorize")
	}
	ch, err := decodeIntent(jx.DecodeBytes(resp.body))
	if err != nil {
		return nil, g.decodeFailed(err, "authorize")
	}
	return ch, nil
}

// Cancel voids an uncaptured intent. An intent that already succeeded can no
// longer be canceled and is refunded in full instead.
func (g *Gateway) Cancel(ctx context.Context, id string) (*payment.Charge, error) {
	path := "/v1/payment_intents/" + url.PathEscape(id) + "/cancel"
	resp, err := g.do(ctx, http.MethodPost, path, formContentType, nil, g.secretKey)
	if err != nil {
		return nil, err
	}
	if resp.ok() {
		ch, err := decodeIntent(jx.DecodeBytes(resp.body))
		if err != nil {
			return nil, g.decodeFailed(err, "cancel")
		}
		return ch, nil
	}
	if resp.status == http.StatusBadRequest {
		if ge, err := decodeGatewayError(jx.DecodeBytes(resp.body)); err == nil && ge.code == "payment_intent_unexpected_state" {
			return g.refund(ctx, id)
		}
	}
	if resp.status == http.StatusNotFound {
		return nil, apperr.NotFound("payment %s not found at gateway", id)
	}
	return nil, g.unexpected(resp, "cancel")
}

func (g *Gateway) refund(ctx context.Context, id string) (*payment.Charge, error) {
	form := url.Values{}
	form.Set("payment_intent", id)
	resp, err := g.do(ctx, http.MethodPost, "/v1/refunds", formContentType, []byte(form.Encode()), g.secretKey)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, g.unexpected(resp, "refund")
	}
	return &payment.Charge{ID: id, Status: payment.StatusCanceled}, nil
}

// intentStatus maps a payment intent status onto the payment lifecycle.
func intentStatus(s string) payment.Status {
	switch s {
	case "succeeded":
		return payment.StatusSucceeded
	case "processing", "requires_capture":
		return payment.StatusProcessing
	case "canceled":
		return payment.StatusCanceled
	default:
		return payment.StatusFailed
	}
}

func decodeIntent(d *jx.Decoder) (*payment.Charge, error) {
	var ch payment.Charge
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			ch.ID, err = d.Str()
		case "status":
			var s string
			s, err = d.Str()
			ch.Status = intentStatus(s)
		case "latest_charge":
			ch.ReceiptURL, err = decodeLatestCharge(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ch.ID == "" {
		return nil, errors.New("payment intent without id")
	}
	return &ch, nil
}

// decodeLatestCharge returns the receipt URL of an expanded charge. An
// unexpanded charge is just an id and carries no receipt.
func decodeLatestCharge(d *jx.Decoder) (string, error) {
	if d.Next() != jx.Object {
		return "", d.Skip()
	}
	var receipt string
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "receipt_url" {
			return d.Skip()
		}
		var err error
		receipt, err = stringValue(d)
		return err
	})
	return receipt, err
}

type gatewayError struct {
	code   string
	intent *payment.Charge
}

func decodeGatewayError(d *jx.Decoder) (gatewayError, error) {
	var ge gatewayError
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "error" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "code":
				ge.code, err = stringValue(d)
			case "payment_intent":
				if d.Next() != jx.Object {
					return d.Skip()
				}
				ge.intent, err = decodeIntent(d)
			default:
				err = d.Skip()
			}
			return err
		})
	})
	return ge, err
}
