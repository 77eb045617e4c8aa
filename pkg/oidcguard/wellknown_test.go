// File: wellknown_test.go

package oidcguard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discoveryServer(t *testing.T, issuer string, jwksBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var jwksURL string
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		doc := discoveryDocument{Issuer: issuer, JWKSURI: jwksURL}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(doc))
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(jwksBody))
	})
	srv := httptest.NewServer(mux)
	jwksURL = srv.URL + "/jwks"
	t.Cleanup(srv.Close)
	return srv
}

func TestWellKnownFetch_MatchingIssuerSucceedsWithoutEvent(t *testing.T) {
	srv := discoveryServer(t, "https://issuer.example.com", `{"keys":[]}`)
	client := newRetryableClient(DefaultHTTPConfig())
	events := NewSecurityEventCounter()

	fetch := wellKnownFetch(client, srv.URL+"/.well-known/openid-configuration", "https://issuer.example.com", 1<<20, events)
	result, err := fetch(context.Background(), "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"keys":[]}`, string(result.body))
	assert.Equal(t, int64(0), events.Snapshot()[EventIssuerMismatch])
}

func TestWellKnownFetch_MismatchedIssuerIsNonFatal(t *testing.T) {
	srv := discoveryServer(t, "https://discovered.example.com", `{"keys":[]}`)
	client := newRetryableClient(DefaultHTTPConfig())
	events := NewSecurityEventCounter()

	fetch := wellKnownFetch(client, srv.URL+"/.well-known/openid-configuration", "https://configured.example.com", 1<<20, events)
	result, err := fetch(context.Background(), "")
	require.NoError(t, err, "an issuer mismatch must not fail the fetch")
	assert.JSONEq(t, `{"keys":[]}`, string(result.body))
	assert.Equal(t, int64(1), events.Snapshot()[EventIssuerMismatch])
}

func TestWellKnownFetch_NoConfiguredIssuerSkipsComparison(t *testing.T) {
	srv := discoveryServer(t, "https://discovered.example.com", `{"keys":[]}`)
	client := newRetryableClient(DefaultHTTPConfig())
	events := NewSecurityEventCounter()

	fetch := wellKnownFetch(client, srv.URL+"/.well-known/openid-configuration", "", 1<<20, events)
	_, err := fetch(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), events.Snapshot()[EventIssuerMismatch])
}
