// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coapscope holds the listener configuration shared by the
// coapscope commands.
package coapscope

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the configuration of one inspecting CoAP listener. Fields are
// read from the environment under the caller's prefix, e.g.
// COAPSCOPE_COAP_PORT.
type Config struct {
	Host       string `env:"HOST"        envDefault:""`
	Port       string `env:"PORT"        envDefault:""`
	TargetHost string `env:"TARGET_HOST" envDefault:"localhost"`
	TargetPort string `env:"TARGET_PORT" envDefault:"5683"`

	SessionTimeout  time.Duration `env:"SESSION_TIMEOUT"  envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxSessions     int           `env:"MAX_SESSIONS"     envDefault:"0"`
	WorkerPoolSize  int           `env:"WORKER_POOL_SIZE" envDefault:"0"`
	BufferSize      int           `env:"BUFFER_SIZE"      envDefault:"0"`

	// Scheme is written before Uri-Host in rebuilt request URIs.
	Scheme string `env:"URI_SCHEME" envDefault:"coap"`
}

// NewConfig parses the listener configuration with the given env options.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	return c, nil
}
