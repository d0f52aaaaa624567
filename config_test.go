// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coapscope

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
)

func TestNewConfig(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
		check   func(t *testing.T, c Config)
		wantErr bool
	}{
		{
			name:    "defaults",
			environ: map[string]string{},
			check: func(t *testing.T, c Config) {
				if c.Port != "" || c.TargetHost != "localhost" || c.TargetPort != "5683" {
					t.Errorf("Unexpected address defaults %+v", c)
				}
				if c.SessionTimeout != 30*time.Second || c.Scheme != "coap" {
					t.Errorf("Unexpected defaults %+v", c)
				}
			},
		},
		{
			name: "prefixed values",
			environ: map[string]string{
				"COAPSCOPE_COAP_PORT":            "5683",
				"COAPSCOPE_COAP_TARGET_HOST":     "backend",
				"COAPSCOPE_COAP_TARGET_PORT":     "15683",
				"COAPSCOPE_COAP_SESSION_TIMEOUT": "2m",
				"COAPSCOPE_COAP_MAX_SESSIONS":    "100",
				"COAPSCOPE_COAP_URI_SCHEME":      "coaps",
				"PORT":                           "9999",
			},
			check: func(t *testing.T, c Config) {
				if c.Port != "5683" || c.TargetHost != "backend" || c.TargetPort != "15683" {
					t.Errorf("Unexpected addresses %+v", c)
				}
				if c.SessionTimeout != 2*time.Minute || c.MaxSessions != 100 || c.Scheme != "coaps" {
					t.Errorf("Unexpected values %+v", c)
				}
			},
		},
		{
			name:    "invalid duration",
			environ: map[string]string{"COAPSCOPE_COAP_SESSION_TIMEOUT": "soon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewConfig(env.Options{Prefix: "COAPSCOPE_COAP_", Environment: tt.environ})
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewConfig() error = %v", err)
			}
			tt.check(t, c)
		})
	}
}
