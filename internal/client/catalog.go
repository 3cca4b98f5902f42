package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

// Catalog is the Product Catalog client.
type Catalog struct {
	base
}

var _ product.Catalog = (*Catalog)(nil)

// NewCatalog creates a catalog client.
func NewCatalog(cfg Config) *Catalog {
	return &Catalog{base: newBase("catalog", cfg)}
}

// GetByID fetches a product. A 404 is reported as product.ErrNotFound.
func (c *Catalog) GetByID(ctx context.Context, id string) (*product.Product, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/products/"+url.PathEscape(id), "", nil, "")
	if err != nil {
		return nil, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		return nil, product.ErrNotFound
	case !resp.ok():
		return nil, c.unexpected(resp, "get product")
	}
	p, err := decodeProduct(jx.DecodeBytes(resp.body))
	if err != nil {
		return nil, c.decodeFailed(err, "get product")
	}
	return p, nil
}

// DecrementStock removes quantity units from the product's stock.
func (c *Catalog) DecrementStock(ctx context.Context, id string, quantity int) error {
	return c.adjustStock(ctx, id, quantity, "decrement")
}

// IncrementStock returns quantity units to the product's stock.
func (c *Catalog) IncrementStock(ctx context.Context, id string, quantity int) error {
	return c.adjustStock(ctx, id, quantity, "increment")
}

func (c *Catalog) adjustStock(ctx context.Context, id string, quantity int, op string) error {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("quantity")
	e.Int(quantity)
	e.FieldStart("operation")
	e.Str(op)
	e.ObjEnd()

	resp, err := c.do(ctx, http.MethodPatch, "/api/products/"+url.PathEscape(id)+"/stock",
		"application/json", e.Bytes(), "")
	if err != nil {
		return err
	}
	if resp.status == http.StatusNotFound {
		return product.ErrNotFound
	}
	if !resp.ok() {
		return c.unexpected(resp, op+" stock")
	}
	return nil
}

func decodeProduct(d *jx.Decoder) (*product.Product, error) {
	var p product.Product
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id", "_id":
			p.ID, err = d.Str()
		case "vendorId":
			p.VendorID, err = stringValue(d)
		case "price":
			p.Price, err = decimalValue(d)
		case "quantityInStock":
			p.QuantityInStock, err = d.Int()
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
