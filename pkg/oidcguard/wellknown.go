// File: wellknown.go
//
// OIDC Discovery (spec.md §4.5.2): a single GET against
// `<issuer>/.well-known/openid-configuration`, resolved once (on the first
// successful fetch) and its jwks_uri kept for the lifetime of the issuer
// registration. Reuses the same retryablehttp
// adapter jwks_loader.go builds for JWKS fetches themselves.

package oidcguard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/hashicorp/go-retryablehttp"
)

// discoveryDocument is the subset of the OIDC discovery document this
// engine consumes. Unknown members are ignored.
type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	JWKSURI               string `json:"jwks_uri"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
}

// resolveWellKnown fetches and parses the discovery document at url.
// Callers compare discoveryDocument.Issuer against the configured
// IssuerConfig.Identifier (spec.md §4.5.2); a mismatch is reported as a
// security event, not treated as a fetch failure — see wellKnownFetch.
func resolveWellKnown(ctx context.Context, client *retryablehttp.Client, url string, maxBody int64) (*discoveryDocument, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wellknown: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wellknown: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wellknown: unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("wellknown: reading body: %w", err)
	}
	if int64(len(body)) > maxBody {
		return nil, fmt.Errorf("wellknown: response exceeds max body size")
	}

	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("wellknown: invalid JSON: %w", err)
	}
	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("wellknown: document missing jwks_uri")
	}
	return &doc, nil
}

// wellKnownFetch builds a fetchFunc that resolves the discovery document on
// its first successful call, keeps the resolved jwks_uri, and delegates every
// call to an HTTP fetch of that jwks_uri. A failed discovery fetch is retried
// on the next call; once resolved, the discovery document is not fetched
// again.
//
// A configured-vs-discovered issuer mismatch is not fatal (spec.md §4.5.2
// "Issuer reconciliation"): it emits an IssuerMismatch security event and
// the configured value wins, since an administrator's explicit configuration
// is trusted over what a remote discovery document claims.
func wellKnownFetch(client *retryablehttp.Client, wellKnownURL string, expectedIssuer string, maxBody int64, events *SecurityEventCounter) fetchFunc {
	var (
		mu      sync.Mutex
		jwksURI string
	)
	return func(ctx context.Context, priorETag string) (fetchResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if jwksURI == "" {
			doc, err := resolveWellKnown(ctx, client, wellKnownURL, maxBody)
			if err != nil {
				return fetchResult{}, err
			}
			if expectedIssuer != "" && doc.Issuer != "" && doc.Issuer != expectedIssuer {
				events.Increment(EventIssuerMismatch)
			}
			jwksURI = doc.JWKSURI
		}
		inner := httpFetch(client, jwksURI, maxBody)
		return inner(ctx, priorETag)
	}
}
