// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Command pqnode runs one partition replica: it opens a bbolt-backed
// store, serves the HTTP surface over it, and promotes itself to
// Primary on start (a real deployment wires role changes through an
// external placement service; this binary promotes eagerly since it
// assumes it is the only replica for its partition until told
// otherwise).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erigontech/erigon-lib/log/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/erigontech/pqservice/api"
	"github.com/erigontech/pqservice/partition"
	"github.com/erigontech/pqservice/pkg/kv"
)

func main() {
	app := &cli.App{
		Name:  "pqnode",
		Usage: "serve one partition replica of the priority queue",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "partition-id", Usage: "partition id this replica serves", Value: 0},
			&cli.IntFlag{Name: "queues", Usage: "number of priority bands (1-100)", Value: 5},
			&cli.StringFlag{Name: "db", Usage: "path to the bbolt database file", Value: "pqnode.db"},
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address", Value: ":8080"},
			&cli.BoolFlag{Name: "secondary", Usage: "start as ActiveSecondary instead of Primary"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("[pqnode] exited with error", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := partition.DefaultConfig(c.Uint64("partition-id"))
	cfg.NumberOfQueues = int32(c.Int("queues"))

	store, err := kv.OpenBboltStore(c.String("db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("[pqnode] error closing store", "err", err)
		}
	}()

	p, err := partition.New(store, cfg)
	if err != nil {
		return fmt.Errorf("open partition: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rc := partition.NewRoleController(p)
	if c.Bool("secondary") {
		rc.Demote(ctx)
	} else {
		rc.Promote(ctx)
	}
	defer rc.Stop()

	registry := prometheus.NewRegistry()
	server := api.NewServer(p, registry)

	httpServer := &http.Server{
		Addr:    c.String("listen"),
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("[pqnode] listening", "addr", c.String("listen"), "partition", cfg.PartitionID)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("[pqnode] shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
