// Package main implements fakephx, a deterministic Phoenix Channels websocket responder for
// integration testing of the phx client. It acknowledges joins, broadcasts pushes to joined
// sessions and exposes admin endpoints to inject pushes and phx_close/phx_error events.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/AceFire6/phx-events/phx"
	"go.uber.org/zap"
)

type topicFlags []string

func (topics *topicFlags) String() string { return strings.Join(*topics, ",") }
func (topics *topicFlags) Set(value string) error {
	for _, topic := range strings.Split(value, ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			*topics = append(*topics, topic)
		}
	}
	return nil
}

var (
	flagAddr     = flag.String("addr", "127.0.0.1:4000", "listen address")
	flagPath     = flag.String("path", "/socket/websocket", "socket endpoint path")
	flagToken    = flag.String("token", "", "require this token query parameter on connect")
	flagEcho     = flag.Bool("echo", false, "broadcast pushes back to the sending session")
	flagLogLevel = flag.String("log-level", "info", "log level")
	flagRejected topicFlags
)

func main() {
	flag.Var(&flagRejected, "reject", "topic whose joins are answered with status error (repeatable, comma separated)")
	flag.Parse()

	logger, stop, err := phx.NewLogger(phx.LogConfig{Level: *flagLogLevel, FlushInterval: time.Second})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fakephx: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = stop() }()
	logger = logger.Named("fakephx")

	srv := newServer(logger, *flagToken, flagRejected, *flagEcho)
	httpServer := &http.Server{
		Addr:              *flagAddr,
		Handler:           srv.routes(*flagPath),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.closeAll(shutdownCtx)
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening",
		zap.String("addr", *flagAddr),
		zap.String("path", *flagPath),
		zap.Bool("token", *flagToken != ""),
		zap.Strings("rejected", flagRejected),
		zap.Bool("echo", *flagEcho))

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("listen failed", zap.Error(err))
		_ = stop()
		os.Exit(1)
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fakephx - deterministic Phoenix Channels websocket responder\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}
