// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing configures OpenTelemetry for the marketplace: the tracer
// provider behind otel.Tracer, span exporters, and span metrics exposed on
// the Prometheus endpoint.
package tracing

import (
	"fmt"
	"time"
)

// Exporter types.
const (
	ExporterOTLP     = "otlp"
	ExporterOTLPHTTP = "otlp-http"
	ExporterConsole  = "console"
	ExporterNone     = "none"
)

// Config holds tracing configuration.
type Config struct {
	// Enabled controls whether spans are recorded and exported.
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this service in traces.
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the application version.
	ServiceVersion string `yaml:"-"`

	// SampleRate is the fraction of root traces recorded, 0 to 1.
	SampleRate float64 `yaml:"sample_rate"`

	// Exporters lists export destinations.
	Exporters []ExporterConfig `yaml:"exporters"`

	// BatchSize is the maximum number of spans per export batch.
	BatchSize int `yaml:"batch_size"`

	// BatchInterval is how often spans are flushed.
	BatchInterval time.Duration `yaml:"batch_interval"`
}

// ExporterConfig defines one export destination.
type ExporterConfig struct {
	// Type is "otlp", "otlp-http", "console" or "none".
	Type string `yaml:"type"`

	// Endpoint is the receiver address, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint"`

	// Headers are sent with every export request.
	Headers map[string]string `yaml:"headers"`

	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures TLS for OTLP exporters.
type TLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	VerifyCertificate bool   `yaml:"verify_certificate"`
	CACertPath        string `yaml:"ca_cert_path"`
}

// DefaultConfig returns tracing disabled with OTLP batch defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "marketplace",
		ServiceVersion: "unknown",
		SampleRate:     1.0,
		BatchSize:      512,
		BatchInterval:  5 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be in [0, 1], got %v", c.SampleRate)
	}
	for i, e := range c.Exporters {
		switch e.Type {
		case ExporterOTLP, ExporterOTLPHTTP:
			if e.Endpoint == "" {
				return fmt.Errorf("tracing.exporters[%d]: endpoint is required for %s", i, e.Type)
			}
		case ExporterConsole, ExporterNone, "":
		default:
			return fmt.Errorf("tracing.exporters[%d]: unknown exporter type %q", i, e.Type)
		}
	}
	return nil
}
