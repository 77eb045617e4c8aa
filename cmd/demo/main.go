// File: cmd/demo/main.go

package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/suleymanmyradov/oidcguard/pkg/oidcguard"
	"github.com/zeromicro/go-zero/core/logx"
)

// demoJWKS is an empty, self-contained JWK Set used only so this demo runs
// without a network dependency; it holds no keys. Real deployments use KeySourceHTTP or
// KeySourceWellKnown against a live authorization server.
const demoJWKS = `{"keys":[]}`

func main() {
	logx.Disable()

	cfg := oidcguard.EngineConfig{
		Issuers: []oidcguard.IssuerConfig{
			{
				Identifier:        "https://issuer.example.com",
				Enabled:           true,
				KeySource:         oidcguard.KeySourceInline,
				InlineJWKS:        []byte(demoJWKS),
				ExpectedAudience:  []string{"demo-client"},
				AllowedAlgorithms: []string{"RS256", "ES256"},
				ClockSkew:         30 * time.Second,
				Limits:            oidcguard.DefaultParserLimits(),
				HTTP:              oidcguard.DefaultHTTPConfig(),
				KeyRotationGrace:  10 * time.Minute,
				MaxRetiredKeysets: 3,
			},
		},
		Cache:   oidcguard.DefaultCacheConfig(),
		Replay:  oidcguard.DefaultReplayConfig(),
	}

	engine, err := oidcguard.New(cfg)
	if err != nil {
		log.Fatalf("oidcguard: %v", err)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.AwaitIssuerReady(ctx, "https://issuer.example.com"); err != nil {
		log.Fatalf("issuer never became ready: %v", err)
	}

	for _, status := range engine.IssuerStatus() {
		fmt.Printf("issuer=%s status=%s keys=%d\n", status.Identifier, status.Status, status.ActiveKeys)
	}

	_, verr := engine.ValidateAccessToken(ctx, "not-a-real-token", oidcguard.AccessTokenOptions{})
	if verr != nil {
		fmt.Printf("validation rejected demo token as expected: %s\n", verr.Code)
	}

	fmt.Printf("security events: %v\n", engine.SecurityEvents())
}
