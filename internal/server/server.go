// Package server exposes the admin HTTP API and the live progress stream.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"mailbot/internal/dispatch"
	"mailbot/internal/events"
	"mailbot/internal/identity"
	"mailbot/internal/quota"
	"mailbot/internal/recipients"
	"mailbot/pkg/logx"
)

type Config struct {
	Listen      string
	ReplayLimit int
}

type Server struct {
	cfg Config

	store      *recipients.Store
	pool       *identity.Pool
	tracker    *quota.Tracker
	controller *dispatch.Controller
	evlog      *events.Log
	log        logx.Logger

	srv *http.Server
}

func New(
	cfg Config,
	store *recipients.Store,
	pool *identity.Pool,
	tracker *quota.Tracker,
	controller *dispatch.Controller,
	evlog *events.Log,
	log logx.Logger,
) *Server {
	if cfg.Listen == "" {
		cfg.Listen = ":10000"
	}
	if cfg.ReplayLimit <= 0 {
		cfg.ReplayLimit = events.DefaultReplayLimit
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		cfg:        cfg,
		store:      store,
		pool:       pool,
		tracker:    tracker,
		controller: controller,
		evlog:      evlog,
		log:        log,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)

	mux.HandleFunc("/recipients/import", s.handleImport)
	mux.HandleFunc("/recipients/pending", s.handleListPending)
	mux.HandleFunc("/recipients/completed", s.handleListCompleted)
	mux.HandleFunc("/recipients/delete", s.handleDeleteRecipient)
	mux.HandleFunc("/recipients/clear", s.handleClearRecipients)

	mux.HandleFunc("/send", s.handleSend)
	mux.HandleFunc("/run/pause", s.handlePause)
	mux.HandleFunc("/run/resume", s.handleResume)
	mux.HandleFunc("/run/status", s.handleStatus)

	mux.HandleFunc("/identities", s.handleIdentities)
	mux.HandleFunc("/identities/enable", s.handleIdentityEnable)
	mux.HandleFunc("/identities/delete", s.handleIdentityDelete)

	mux.HandleFunc("/events/stream", s.handleEventStream)
	return mux
}

func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:        s.cfg.Listen,
		Handler:     s.routes(),
		ReadTimeout: 30 * time.Second,
		// WriteTimeout stays 0: /events/stream is long-lived.
		IdleTimeout: 120 * time.Second,
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", logx.Err(err))
		}
	}()
	s.log.Info("admin api listening", logx.String("addr", s.cfg.Listen))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
