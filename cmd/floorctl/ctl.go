package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/floor-sync/internal/auth"
	"github.com/iliyamo/floor-sync/internal/events"
	"github.com/iliyamo/floor-sync/internal/hub"
	"github.com/iliyamo/floor-sync/internal/queue"
	"github.com/iliyamo/floor-sync/internal/router"
	"github.com/iliyamo/floor-sync/internal/utils"
)

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// login runs the callback server, prints the login url and waits for the
// provider to redirect back with a token.
func login(opts docopt.Opts) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if cfg.APIURL == "" {
		return errors.New("missing API_URL")
	}
	callbackAddr, _ := opts.String("--callback_addr")
	returnURL, _ := opts.String("--return_url")
	if returnURL == "" {
		returnURL = cfg.LoginReturnURL
	}
	if returnURL == "" {
		returnURL = "http://" + callbackAddr + auth.CallbackPath
	}
	timeoutStr, _ := opts.String("--timeout")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return fmt.Errorf("invalid --timeout %q", timeoutStr)
	}

	loginURL, err := auth.LoginURL(cfg.APIURL, cfg.LoginPath, returnURL)
	if err != nil {
		return err
	}

	callback := auth.NewCallback()
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	router.RegisterAuth(e, callback)
	go func() {
		if err := e.Start(callbackAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Errorf("[login]callback server error = %s\n", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.Shutdown(shutdownCtx)
	}()

	Out.Printf("Open this url to log in:\n%s\n", loginURL)

	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	tok, err := callback.Await(ctx)
	if err != nil {
		return err
	}
	if tok == "" {
		return fmt.Errorf("%w: no token in callback", auth.ErrAuthFailed)
	}
	if session, err := auth.ParseSession(tok); err == nil {
		glog.Infof("[login]logged in as %s (%s), expires %s\n", session.Subject, session.Email, session.ExpiresAt.Format(time.RFC3339))
	}

	if path, _ := opts.String("--token_file"); path != "" {
		if err := os.WriteFile(path, []byte(tok+"\n"), 0o600); err != nil {
			return fmt.Errorf("write token file: %w", err)
		}
		Out.Printf("Token written to %s\n", path)
		return nil
	}
	Out.Printf("%s\n", tok)
	return nil
}

// probe connects to the hub, round trips the test command and disconnects.
func probe(opts docopt.Opts) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.AccessToken != "" {
		if session, err := auth.ParseSession(cfg.AccessToken); err == nil && session.Expired(time.Now()) {
			Out.Printf("warning: access token expired at %s\n", session.ExpiresAt.Format(time.RFC3339))
		}
	}

	settings := cfg.Hub.Settings(func() string { return cfg.AccessToken })
	// a probe reports the first failure instead of retrying
	settings.ReconnectDelays = []time.Duration{}
	conn := hub.NewConn(cfg.HubURL(), settings)
	defer conn.Close()

	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, 30*time.Second)
	defer cancelTimeout()

	start := time.Now()
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	Out.Printf("%s: %s in %s\n", conn.URL(), conn.State(), time.Since(start).Round(time.Millisecond))

	start = time.Now()
	if err := events.NewRouter(conn).TestConnection(ctx); err != nil {
		return err
	}
	Out.Printf("%s: ok in %s\n", events.CommandTestConnection, time.Since(start).Round(time.Millisecond))

	conn.Disconnect()
	Out.Printf("%s: %s\n", conn.URL(), conn.State())
	return nil
}

// tail prints every change published to the change queue until interrupted.
func tail(opts docopt.Opts) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	url := cfg.AMQP.URL
	if s, _ := opts.String("--rabbitmq_url"); s != "" {
		url = s
	}
	name := cfg.AMQP.Queue
	if s, _ := opts.String("--queue"); s != "" {
		name = s
	}

	ctx, cancel := signalContext()
	defer cancel()
	err = queue.Tail(ctx, url, name, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// token issues a view API token.
func token(opts docopt.Opts) error {
	secret, _ := opts.String("--secret")
	subject, _ := opts.String("--subject")
	ttlStr, _ := opts.String("--ttl")
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil || ttl <= 0 {
		return fmt.Errorf("invalid --ttl %q", ttlStr)
	}
	tok, err := utils.NewAccessToken(secret, subject, ttl)
	if err != nil {
		return err
	}
	Out.Printf("%s\n", tok.Token)
	glog.V(1).Infof("[token]expires %s\n", tok.Exp.Format(time.RFC3339))
	return nil
}
