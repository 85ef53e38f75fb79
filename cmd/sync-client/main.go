// Command sync-client runs one participant of the sync core in a terminal:
// it places and answers calls, sends and reads messages, and shows peer
// presence as events arrive from the relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"secureconnect-sync/internal/apiclient"
	"secureconnect-sync/internal/channel"
	"secureconnect-sync/internal/client"
	intDatabase "secureconnect-sync/internal/database"
	"secureconnect-sync/internal/media"
	"secureconnect-sync/internal/msgsync"
	"secureconnect-sync/pkg/config"
	"secureconnect-sync/pkg/constants"
	"secureconnect-sync/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	flagSet := pflag.NewFlagSet("sync-client", pflag.ContinueOnError)
	flagSet.StringVarP(&cfg.Client.UserID, "user", "u", cfg.Client.UserID, "local participant id")
	flagSet.StringVar(&cfg.Client.AccessToken, "token", cfg.Client.AccessToken, "relay access token")
	flagSet.StringVar(&cfg.Channel.Driver, "driver", cfg.Channel.Driver, "channel driver: redis, websocket, memory")
	flagSet.StringVar(&cfg.Channel.WSURL, "ws-url", cfg.Channel.WSURL, "gateway WebSocket URL (websocket driver)")
	flagSet.StringVar(&cfg.API.BaseURL, "api", cfg.API.BaseURL, "relay REST base URL")
	flagSet.StringVar(&cfg.Client.SignalRoute, "signal-route", cfg.Client.SignalRoute, "call signal route: channel, rest")
	flagSet.StringSliceVar(&cfg.Media.Devices, "devices", cfg.Media.Devices, "media kinds with a capture device")
	flagSet.StringVar(&cfg.Metrics.Addr, "metrics-addr", cfg.Metrics.Addr, "serve Prometheus metrics on this address")
	debug := flagSet.Bool("debug", false, "enable debug logging")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}

	logCfg := &logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}
	if *debug {
		logCfg.Level = "debug"
	}
	if err := logger.Init(logCfg); err != nil {
		logger.InitDefault()
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr)
	}

	ch, closeTransport, err := newChannel(cfg)
	if err != nil {
		return err
	}
	defer closeTransport()

	api, err := apiclient.New(apiclient.Config{
		BaseURL:     cfg.API.BaseURL,
		AccessToken: cfg.Client.AccessToken,
		Timeout:     cfg.API.Timeout,
	})
	if err != nil {
		return err
	}

	mediaEngine, err := media.NewEngine(cfg.Media.ICEServers, cfg.Media.Devices)
	if err != nil {
		return err
	}

	c := client.New(client.Config{
		UserID:      cfg.Client.UserID,
		AccessToken: cfg.Client.AccessToken,
		SignalRoute: cfg.Client.SignalRoute,
		Sync:        []msgsync.Option{msgsync.WithDedupWindow(cfg.Sync.DedupWindow)},
	}, ch, api, mediaEngine)

	ui := newConsole(c)
	ui.watch()

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Connecting as %s over %s", cfg.Client.UserID, cfg.Channel.Driver))
	if err := c.Start(ctx); err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success(fmt.Sprintf("Connected as %s", cfg.Client.UserID))

	ui.run(ctx, os.Stdin)

	closeCtx, cancel := context.WithTimeout(context.Background(), constants.PublishTimeout)
	defer cancel()
	return c.Close(closeCtx)
}

// newChannel builds the transport selected by cfg.Channel.Driver
func newChannel(cfg *config.Config) (channel.Client, func(), error) {
	switch cfg.Channel.Driver {
	case constants.ChannelDriverWebSocket:
		return channel.NewWebSocketClient(cfg.Channel.WSURL, cfg.Channel.Buffer), func() {}, nil
	case constants.ChannelDriverMemory:
		// Loopback only; useful for trying the UI without a relay
		return channel.NewMemoryBus().Client(), func() {}, nil
	default:
		redisDB := intDatabase.NewRedisDB(cfg.Redis)
		return channel.NewRedisClient(redisDB.Client, cfg.Channel.Buffer), func() { _ = redisDB.Close() }, nil
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("Serving client metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics listener stopped", zap.Error(err))
	}
}
