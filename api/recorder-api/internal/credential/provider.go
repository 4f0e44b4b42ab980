// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_credential

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/utils"
)

const requestTimeout = 10 * time.Second

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// httpProvider exchanges the long-lived API key for a short-lived streaming
// token. One exchange per connection attempt; tokens are never cached.
type httpProvider struct {
	logger   commons.Logger
	client   *resty.Client
	endpoint string
	scope    string
}

// NewHTTPProvider builds a credential provider against the token endpoint.
// The option bag carries endpoint-specific settings: "scope" (string) is
// forwarded in the token request body, "timeout" (duration) overrides the
// request timeout.
func NewHTTPProvider(logger commons.Logger, endpoint, apiKey string, opts utils.Option) internal_type.CredentialProvider {
	timeout := requestTimeout
	if d, err := opts.GetDuration("timeout"); err == nil {
		timeout = d
	}
	scope, _ := opts.GetString("scope")

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json")
	return &httpProvider{
		logger:   logger,
		client:   client,
		endpoint: endpoint,
		scope:    scope,
	}
}

func (p *httpProvider) GetStreamingCredential(ctx context.Context) (string, error) {
	var token tokenResponse
	req := p.client.R().
		SetContext(ctx).
		SetResult(&token)
	if p.scope != "" {
		req.SetBody(map[string]string{"scope": p.scope})
	}
	resp, err := req.Post(p.endpoint)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status())
	}
	if token.Token == "" {
		return "", fmt.Errorf("token endpoint returned an empty token")
	}
	p.logger.Debugf("issued streaming credential, expires in %ds", token.ExpiresIn)
	return token.Token, nil
}
