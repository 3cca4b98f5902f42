package apperr

import (
	"net/http"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIs(t *testing.T) {
	err := errors.Wrap(WithReason(KindConflict, ReasonPriceMismatch, "price changed for %s", "p1"), "checkout")

	require.True(t, errors.Is(err, &Error{Reason: ReasonPriceMismatch}))
	require.True(t, errors.Is(err, &Error{Kind: KindConflict}))
	assert.False(t, errors.Is(err, &Error{Reason: ReasonAmountMismatch}))
	assert.False(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.True(t, HasReason(err, ReasonPriceMismatch))
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestUpstreamUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstream(cause, "fetch cart")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.Equal(t, "fetch cart: connection refused", err.Error())
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindValidation))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindConflict))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(KindForbidden))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(KindUpstream))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(""))
}
