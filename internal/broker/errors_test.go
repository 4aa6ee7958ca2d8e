package broker

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfAndIs(t *testing.T) {
	err := E(KindMissingCredentials, "no credentials bound for %s", "stripe")
	assert.Equal(t, KindMissingCredentials, KindOf(err))
	assert.True(t, Is(err, KindMissingCredentials))
	assert.False(t, Is(err, KindForbidden))
	assert.Contains(t, err.Error(), "missing_credentials")
	assert.Contains(t, err.Error(), "stripe")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindUpstreamTransport, cause, "dial upstream")
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindUpstreamTransport, KindOf(err))

	// Kind survives another plain wrap.
	outer := fmt.Errorf("execute: %w", err)
	assert.Equal(t, KindUpstreamTransport, KindOf(outer))
}

func TestKindOfUntagged(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindUnauthorized, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindMissingCredentials, http.StatusUnprocessableEntity},
		{KindInvalidSpec, http.StatusUnprocessableEntity},
		{KindMCPUnsupportedTransport, http.StatusUnprocessableEntity},
		{KindUpstreamHTTP, http.StatusBadGateway},
		{KindUpstreamTransport, http.StatusBadGateway},
		{KindApprovalTimeout, http.StatusRequestTimeout},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(E(tc.kind, "x")), string(tc.kind))
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("untyped")))
}
