// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/utils"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(commons.Name("test-credential"))
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return logger
}

func TestGetStreamingCredentialForwardsScope(t *testing.T) {
	var mu sync.Mutex
	var gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{"token": "tok-9", "expires_in": 60})
	}))
	defer srv.Close()

	p := NewHTTPProvider(newTestLogger(t), srv.URL, "api-key", utils.Option{
		"scope":   "transcription",
		"timeout": "2s",
	})

	token, err := p.GetStreamingCredential(context.Background())
	if err != nil {
		t.Fatalf("GetStreamingCredential error: %v", err)
	}
	if token != "tok-9" {
		t.Errorf("unexpected token %q", token)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotAuth != "Bearer api-key" {
		t.Errorf("unexpected authorization header %q", gotAuth)
	}
	if gotBody["scope"] != "transcription" {
		t.Errorf("unexpected request body %v", gotBody)
	}
}

func TestGetStreamingCredentialOmitsEmptyScope(t *testing.T) {
	var mu sync.Mutex
	var bodyLen int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		bodyLen = r.ContentLength
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{"token": "tok-1"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(newTestLogger(t), srv.URL, "api-key", utils.Option{})
	if _, err := p.GetStreamingCredential(context.Background()); err != nil {
		t.Fatalf("GetStreamingCredential error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if bodyLen > 0 {
		t.Errorf("expected empty body without a scope, got %d bytes", bodyLen)
	}
}

func TestGetStreamingCredentialErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"rejected", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
		{"empty token", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{"token": ""})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			p := NewHTTPProvider(newTestLogger(t), srv.URL, "api-key", utils.Option{})
			if _, err := p.GetStreamingCredential(context.Background()); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
