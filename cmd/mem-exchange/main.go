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

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/databrook/databrook/app"
	"github.com/databrook/databrook/app/config"
	"github.com/databrook/databrook/app/httpapp"
	"github.com/databrook/databrook/appreg"
	appreghttp "github.com/databrook/databrook/appreg/httpapi"
	appreginmem "github.com/databrook/databrook/appreg/inmem"
	"github.com/databrook/databrook/exchange"
	"github.com/databrook/databrook/exchange/escrow"
	"github.com/databrook/databrook/exchange/httpapi"
	offerinmem "github.com/databrook/databrook/exchange/offerledger/inmem"
	"github.com/databrook/databrook/identity"
	"github.com/databrook/databrook/otel/otelutil"
	"github.com/databrook/databrook/sequence"
)

type Config struct {
	// HTTP is http server related config
	HTTP *httpapp.Config `yaml:"http"`

	// AuthKey signs and verifies caller bearer tokens.
	AuthKey string `yaml:"auth_key"`

	// SettleWindow is the number of sequence units after ordering during
	// which an offer can still be settled.
	SettleWindow uint64 `yaml:"settle_window"`

	// TickInterval controls how often the in-process ordering counter
	// advances.
	TickInterval time.Duration `yaml:"tick_interval"`
}

func (c *Config) IsValid() error {
	if c.AuthKey == "" {
		return errors.New("auth_key must be set")
	}
	if c.TickInterval <= 0 {
		return errors.New("tick_interval must be positive")
	}
	return nil
}

const serviceName = "mem_exchange"

func main() {
	os.Exit(run())
}

func run() int {
	shutdown, err := otelutil.Init(context.Background(), serviceName)
	if err != nil {
		slog.Error("failed to init opentelemetry", "error", err)
		return 1
	}
	defer shutdown(context.Background())

	configFile, err := config.FilenameFromArgs(os.Args[1:])
	if err != nil {
		slog.Warn("failed to determine config file", "error", err)
	}

	// start with default config and override by loading from
	// YAML file and/or environment.
	httpConfig := httpapp.DefaultConfig()
	httpConfig.Port = "3700"
	cfg := &Config{
		HTTP:         httpConfig,
		SettleWindow: exchange.DefaultSettleWindow,
		TickInterval: time.Second,
	}

	err = config.Load(cfg, configFile, map[string]config.EnvMapping[Config]{
		"DATABROOK_AUTH_KEY": {Func: func(cfg *Config, val string) error {
			cfg.AuthKey = val
			return nil
		}},
	})
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	exchangeAddr, err := identity.RandomAddress()
	if err != nil {
		slog.Error("failed to generate exchange address", "error", err)
		return 1
	}
	escrowAddr, err := identity.RandomAddress()
	if err != nil {
		slog.Error("failed to generate escrow address", "error", err)
		return 1
	}

	registry := appreginmem.NewRegistry()
	directory := appreg.NewCached(registry, appreg.DefaultCachedConfig())

	seq := sequence.NewTicking(cfg.TickInterval)
	defer seq.Stop()

	events := exchange.NewAsyncSink(exchange.NewLogSink(slog.Default()), 256, 2)
	defer events.Close()

	resolver := exchange.NewAdapterResolver()
	coord := exchange.NewCoordinator(
		exchange.Config{SettleWindow: cfg.SettleWindow},
		exchangeAddr,
		offerinmem.NewLedger(),
		directory,
		seq,
		resolver,
		events,
	)

	tokenEscrow := escrow.NewTokenEscrow(escrowAddr, exchangeAddr, coord, directory)
	resolver.Register(tokenEscrow.Address(), tokenEscrow)

	verifier := identity.NewTokenVerifier([]byte(cfg.AuthKey))
	exchangeServer := httpapi.NewServer(coord, verifier)
	registryServer := appreghttp.NewServer(registry, verifier, directory)

	mux := http.NewServeMux()
	mux.Handle("/health", exchangeServer)
	mux.Handle("/offers", exchangeServer)
	mux.Handle("/offers/", exchangeServer)
	mux.Handle("/apps", registryServer)
	mux.Handle("/apps/", registryServer)
	httpApp := httpapp.New(cfg.HTTP, mux)

	slog.Info("exchange starting",
		"exchange_address", exchangeAddr,
		"escrow_address", escrowAddr,
		"settle_window", cfg.SettleWindow)

	// run the app until it exits or signals received
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return app.Run(ctx, app.NewMulti(httpApp), func() (context.Context, context.CancelFunc) {
		// signals received during graceful shutdown cause immediate exit
		return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	})
}
