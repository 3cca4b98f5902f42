// Package handler exposes the order and payment services over HTTP. Request
// and response bodies are read and written with jx; domain errors are mapped
// to the shared JSON error envelope in one place, writeError.
package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/identity"
	"github.com/xenking/marketplace-checkout/internal/domain/pagination"
)

// maxRequestBody caps request bodies.
const maxRequestBody = 64 << 10

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeEnvelope(w http.ResponseWriter, status int, kind, reason, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("error")
		e.Str(kind)
		if reason != "" {
			e.FieldStart("reason")
			e.Str(reason)
		}
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}

// writeError maps err to a response. Classified errors expose their message;
// anything else is logged and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeEnvelope(w, http.StatusInternalServerError, "InternalError", "", "internal server error")
		return
	}
	status := apperr.HTTPStatus(e.Kind)
	if e.Kind == apperr.KindUpstream {
		zctx.From(r.Context()).Warn("Upstream failure", zap.Error(err))
	}
	writeEnvelope(w, status, string(e.Kind), string(e.Reason), e.Message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeEnvelope(w, http.StatusUnauthorized, "Unauthorized", "", message)
}

// callerOf returns the identity stored by Authenticator.
func callerOf(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "authentication required")
	}
	return id, ok
}

// decodeBody reads a JSON object from the request, calling field for every
// key. An empty body is accepted when allowEmpty is set.
func decodeBody(r *http.Request, allowEmpty bool, field func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return apperr.Validation("read request body: %v", err)
	}
	if len(body) > maxRequestBody {
		return apperr.Validation("request body too large")
	}
	if len(body) == 0 {
		if allowEmpty {
			return nil
		}
		return apperr.Validation("request body is required")
	}
	if err := jx.DecodeBytes(body).Obj(field); err != nil {
		return apperr.Validation("invalid JSON body: %v", err)
	}
	return nil
}

// optString reads a string, treating null as empty.
func optString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// decimalField reads a JSON number or numeric string exactly.
func decimalField(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = string(n)
	default:
		return decimal.Zero, errors.Errorf("expected number, got %s", d.Next())
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %q", raw)
	}
	return v, nil
}

// pageOf parses the page and limit query parameters. Invalid values fall
// back to the defaults.
func pageOf(r *http.Request) pagination.Page {
	q := r.URL.Query()
	number, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return pagination.Page{Number: number, Limit: limit}.Normalize()
}

// encodePage writes {"items":[...],"total":n,"page":n,"limit":n}.
func encodePage[T any](e *jx.Encoder, res *pagination.Result[T], item func(e *jx.Encoder, v *T)) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for i := range res.Items {
		item(e, &res.Items[i])
	}
	e.ArrEnd()
	e.FieldStart("total")
	e.Int(res.Total)
	e.FieldStart("page")
	e.Int(res.Page.Number)
	e.FieldStart("limit")
	e.Int(res.Page.Limit)
	e.ObjEnd()
}

func money(e *jx.Encoder, field string, v decimal.Decimal) {
	e.FieldStart(field)
	e.Str(v.StringFixed(2))
}
