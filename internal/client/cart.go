package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace-checkout/internal/domain/cart"
)

// Carts is the Cart Store client.
type Carts struct {
	base
}

var _ cart.Store = (*Carts)(nil)

// NewCarts creates a cart store client.
func NewCarts(cfg Config) *Carts {
	return &Carts{base: newBase("cart", cfg)}
}

// Get returns the consumer's cart. A consumer without a cart has an empty one.
func (c *Carts) Get(ctx context.Context, consumerID string) (*cart.Cart, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/carts/"+url.PathEscape(consumerID), "", nil, "")
	if err != nil {
		return nil, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		return &cart.Cart{ConsumerID: consumerID}, nil
	case !resp.ok():
		return nil, c.unexpected(resp, "get cart")
	}
	out := &cart.Cart{ConsumerID: consumerID}
	if err := decodeCart(jx.DecodeBytes(resp.body), out); err != nil {
		return nil, c.decodeFailed(err, "get cart")
	}
	return out, nil
}

// Clear removes every item from the consumer's cart.
func (c *Carts) Clear(ctx context.Context, consumerID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/carts/"+url.PathEscape(consumerID)+"/items", "", nil, "")
	if err != nil {
		return err
	}
	if !resp.ok() {
		return c.unexpected(resp, "clear cart")
	}
	return nil
}

func decodeCart(d *jx.Decoder, c *cart.Cart) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "items" {
			return d.Skip()
		}
		if d.Next() == jx.Null {
			return d.Null()
		}
		return d.Arr(func(d *jx.Decoder) error {
			it, err := decodeCartItem(d)
			if err != nil {
				return errors.Wrapf(err, "item %d", len(c.Items))
			}
			c.Items = append(c.Items, it)
			return nil
		})
	})
}

func decodeCartItem(d *jx.Decoder) (cart.Item, error) {
	var it cart.Item
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "productId":
			it.ProductID, err = d.Str()
		case "price":
			it.Price, err = decimalValue(d)
		case "quantity":
			it.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	return it, err
}
