package cmd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailsched/mailsched/internal/config"
	"github.com/mailsched/mailsched/internal/engine"
	"github.com/mailsched/mailsched/internal/observability"
	"github.com/mailsched/mailsched/internal/rpc"
	"github.com/mailsched/mailsched/internal/server"
)

// inProcessURL addresses the handler served by handlerTransport.
const inProcessURL = "http://mailsched.invalid"

var backendUser string

func init() {
	rootCmd.PersistentFlags().StringVar(&backendUser, "user", "", "user the scheduler calls act for (overrides backend.user)")
}

// handlerTransport serves requests from an http.Handler without a socket.
type handlerTransport struct {
	handler http.Handler
}

func (t handlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	t.handler.ServeHTTP(rec, req)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

// session is an engine bound to a scheduler backend for one CLI command.
type session struct {
	cfg    *config.Config
	engine *engine.Engine
	close  func() error
}

func (s *session) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// openSession connects the engine to backend.url, or to an in-process
// backend over the local store when no url is configured.
func openSession(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	user := strings.TrimSpace(backendUser)
	if user == "" {
		user = strings.TrimSpace(cfg.Backend.User)
	}
	if user == "" {
		return nil, errors.New("no user: pass --user or set backend.user")
	}

	logger := observability.CLI()
	closeFn := func() error { return nil }

	var client *rpc.Client
	if cfg.Backend.URL != "" {
		client = rpc.New(cfg.Backend.URL, &http.Client{Timeout: cfg.Backend.Timeout})
	} else {
		svc, db, err := openService(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		closeFn = db.Close
		srv := server.New(server.Options{Service: svc})
		client = rpc.New(inProcessURL, &http.Client{Transport: handlerTransport{handler: srv.Handler()}})
	}
	client.Headers.Set(server.UserHeader, user)

	eng := engine.New(engine.Options{
		Boot:     cfg.Scheduler.BootConfig(),
		Backend:  client,
		Logger:   logger,
		Location: cfg.Scheduler.Location(),
	})
	return &session{cfg: cfg, engine: eng, close: closeFn}, nil
}
