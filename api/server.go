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

// Package api exposes a Partition over HTTP, under the api/ prefix.
package api

import (
	"net/http"

	"github.com/erigontech/erigon-lib/log/v3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erigontech/pqservice/partition"
)

// Server wraps one Partition replica with the HTTP surface a client
// speaks to, plus a /metrics endpoint for Prometheus scraping and a
// /healthz endpoint for liveness probes.
type Server struct {
	p      *partition.Partition
	router chi.Router
}

// NewServer builds the router. Handler registration happens once, at
// construction; Server itself is stateless beyond the Partition it wraps.
func NewServer(p *partition.Partition, registerer prometheus.Registerer) *Server {
	s := &Server{p: p}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/healthz", s.handleHealthz)
	if registerer != nil {
		if err := p.RegisterMetrics(registerer); err != nil {
			log.Warn("[api] failed to register partition metrics", "err", err)
		}
		gatherer := prometheus.DefaultGatherer
		if g, ok := registerer.(prometheus.Gatherer); ok {
			gatherer = g
		}
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/prioritycount", s.handlePriorityCount)
		r.Get("/count", s.handleCount)
		r.Get("/", s.handleDequeue)
		r.Get("/peek", s.handlePeek)
		r.Get("/peekkeys", s.handlePeekKeys)
		r.Get("/items", s.handleItems)
		r.Post("/{band}", s.handleEnqueue)
		r.Put("/", s.handleExtend)
		r.Delete("/{key}", s.handleDelete)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report, err := s.p.Health(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
