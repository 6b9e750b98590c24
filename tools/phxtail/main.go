// Package main implements phxtail, which joins Phoenix channel topics and logs every
// message received for the requested events until the socket closes or it is interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AceFire6/phx-events/phx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type listFlag []string

func (values *listFlag) String() string { return strings.Join(*values, ",") }
func (values *listFlag) Set(value string) error {
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*values = append(*values, item)
		}
	}
	return nil
}

type options struct {
	configPath  string
	topics      listFlag
	events      listFlag
	workers     int
	metricsAddr string
}

func parseOptions(args []string, output io.Writer) (options, error) {
	var parsed options
	flags := flag.NewFlagSet("phxtail", flag.ContinueOnError)
	flags.SetOutput(output)
	flags.StringVar(&parsed.configPath, "config", "", "YAML config file (defaults to "+phx.EnvSocketURL+"/"+phx.EnvAuthToken+")")
	flags.Var(&parsed.topics, "topic", "topic to join (repeatable, comma separated)")
	flags.Var(&parsed.events, "event", "event to log; event@topic logs it only for that topic (repeatable, comma separated)")
	flags.IntVar(&parsed.workers, "workers", -1, "pool handler workers, overrides max_workers")
	flags.StringVar(&parsed.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.Usage = func() {
		fmt.Fprintf(output, "phxtail - join Phoenix channel topics and log their events\n\n")
		fmt.Fprintf(output, "Usage: %s [flags]\n\n", filepath.Base(os.Args[0]))
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if len(parsed.topics) == 0 {
		return options{}, errors.New("at least one -topic is required")
	}
	return parsed, nil
}

func loadConfig(parsed options) (phx.Config, error) {
	var config phx.Config
	if parsed.configPath != "" {
		loaded, err := phx.LoadConfig(parsed.configPath)
		if err != nil {
			return phx.Config{}, err
		}
		config = loaded
	} else {
		config = phx.ConfigFromEnv()
		if err := config.Validate(); err != nil {
			return phx.Config{}, err
		}
	}
	if parsed.workers >= 0 {
		config.MaxWorkers = parsed.workers
	}
	return config, nil
}

// logMessage is the handler registered for every tailed event.
func logMessage(message phx.ChannelMessage, client phx.Handle) error {
	ref, _ := message.Ref()
	client.Logger().Info("message",
		zap.String("topic", string(message.Topic())),
		zap.String("event", string(message.Event())),
		zap.String("ref", ref),
		zap.Any("payload", map[string]interface{}(message.Payload())))
	return nil
}

func registerHandlers(client *phx.Client, parsed options) error {
	for _, topic := range parsed.topics {
		if _, err := client.RegisterTopicSubscription(phx.Topic(topic)); err != nil {
			return err
		}
	}
	for _, event := range parsed.events {
		handler := phx.PoolHandler(logMessage).Named("phxtail")
		name, topic, scoped := strings.Cut(event, "@")
		var err error
		if scoped {
			err = client.RegisterTopicEventHandler(phx.Event(name), phx.Topic(topic), handler)
		} else {
			err = client.RegisterEventHandler(phx.Event(name), handler)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", listener.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

func run(ctx context.Context, args []string, output io.Writer) error {
	parsed, err := parseOptions(args, output)
	if err != nil {
		return err
	}
	config, err := loadConfig(parsed)
	if err != nil {
		return err
	}

	logger, stop, err := phx.NewLogger(config.Log)
	if err != nil {
		return err
	}
	defer func() { _ = stop() }()

	registry := prometheus.NewRegistry()
	client, err := phx.NewClientFromConfig(config, phx.WithLogger(logger), phx.WithMetrics(registry))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	if err := registerHandlers(client, parsed); err != nil {
		return err
	}

	if parsed.metricsAddr != "" {
		shutdownMetrics, err := serveMetrics(parsed.metricsAddr, registry, logger)
		if err != nil {
			return err
		}
		defer shutdownMetrics()
	}

	logger.Info("phxtail starting", zap.Strings("topics", parsed.topics), zap.Strings("events", parsed.events))
	err = client.StartProcessing(ctx)
	logger.Info("phxtail stopped", zap.String("reason", client.ShutdownReason()), zap.Error(err))
	return err
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "phxtail: %v\n", err)
		os.Exit(1)
	}
}
