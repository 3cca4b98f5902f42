package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace-checkout/internal/domain/payment"
)

// Payments looks up payments in the payment service.
type Payments struct {
	base
}

// NewPayments creates a payment service client.
func NewPayments(cfg Config) *Payments {
	return &Payments{base: newBase("payment service", cfg)}
}

// Get fetches a payment. A 404 is reported as payment.ErrNotFound and a 403
// as payment.ErrForbidden.
func (c *Payments) Get(ctx context.Context, id string) (*payment.Payment, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/payments/"+url.PathEscape(id), "", nil, "")
	if err != nil {
		return nil, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		return nil, payment.ErrNotFound
	case resp.status == http.StatusForbidden:
		return nil, payment.ErrForbidden
	case !resp.ok():
		return nil, c.unexpected(resp, "get payment")
	}
	p, err := decodePayment(jx.DecodeBytes(resp.body))
	if err != nil {
		return nil, c.decodeFailed(err, "get payment")
	}
	return p, nil
}

// decodePayment reads the fields checkout relies on and skips the rest.
func decodePayment(d *jx.Decoder) (*payment.Payment, error) {
	var p payment.Payment
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var (
			err error
			s   string
		)
		switch string(key) {
		case "id":
			p.ID, err = d.Str()
		case "consumerId":
			p.ConsumerID, err = stringValue(d)
		case "status":
			s, err = d.Str()
			p.Status = payment.Status(s)
		case "amount":
			p.Amount, err = d.Int64()
		case "currency":
			p.Currency, err = stringValue(d)
		case "total":
			p.Total, err = decimalValue(d)
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
	return &p, nil
}
