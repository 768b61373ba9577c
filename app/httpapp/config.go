// Copyright 2025 Nonvolatile Inc. d/b/a Confident Security

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     https://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpapp

import "time"

type Config struct {
	// Port is the port the http server will be exposed on.
	Port string `yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body. Zero or negative means no timeout.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// ReadHeaderTimeout is the amount of time allowed to read request
	// headers. If zero, the value of ReadTimeout is used.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of
	// the response. Zero or negative means no timeout.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next
	// request when keep-alives are enabled. If zero, the value of
	// ReadTimeout is used.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// RequestLogging indicates whether request logging is enabled.
	RequestLogging bool `yaml:"request_logging"`
}

func DefaultConfig() *Config {
	return &Config{
		Port:              "8000",
		ReadTimeout:       300 * time.Second, // quite generous, but better than no timeout.
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		RequestLogging:    true,
	}
}
