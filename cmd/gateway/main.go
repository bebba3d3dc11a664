// Command gateway runs the terminal bridge: it connects the four terminal
// channels, keeps the subscription streams alive, and exposes the order
// lifecycle on the process log.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"

	"github.com/mtgate/mtgate/config"
	"github.com/mtgate/mtgate/internal/gateway"
	"github.com/mtgate/mtgate/internal/observability"
	"github.com/mtgate/mtgate/internal/orders"
	"github.com/mtgate/mtgate/internal/reconcile"
	"github.com/mtgate/mtgate/internal/session"
	"github.com/mtgate/mtgate/internal/stream"
	"github.com/mtgate/mtgate/internal/telemetry"
	"github.com/mtgate/mtgate/internal/transport"
)

const maxStreamBackoff = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	host := flag.String("host", "", "terminal host, overriding configuration")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if err := run(*configPath, *host, *verbose); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

func run(configPath, host string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = config.Apply(cfg, config.WithHost(host))

	logger := observability.NewStdLogger(log.New(os.Stderr, "", log.LstdFlags|log.LUTC), verbose)
	observability.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, err := telemetry.New()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	client, err := transport.NewClient(ctx, transport.ClientConfig{
		CommandDialer: transport.NewDialer(cfg.ChannelURL(config.ChannelCommand), cfg.CommandTimeout),
		ResultDialer:  transport.NewDialer(cfg.ChannelURL(config.ChannelResult), cfg.ResultTimeout),
		Retries:       cfg.RequestRetries,
		CommandRate:   cfg.CommandRate,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	sess := session.New(client, logger)
	balance, err := sess.Balance(ctx)
	if err != nil {
		return fmt.Errorf("terminal handshake: %w", err)
	}
	logger.Info("terminal connected",
		observability.F("host", cfg.Host),
		observability.F("balance", balance.Balance),
		observability.F("equity", balance.Equity))

	book := orders.NewBook(cfg.EvictionGrace)
	notifier := &logNotifier{log: logger}
	engine := reconcile.New(book, notifier, metrics, logger)

	gw, err := gateway.New(gateway.Config{
		Terminal:   sess,
		Book:       book,
		Notifier:   notifier,
		Expecter:   engine,
		Metrics:    metrics,
		Logger:     logger,
		QueueDepth: cfg.QueueDepth,
		Magic:      cfg.Magic,
	})
	if err != nil {
		return err
	}
	defer gw.Close()

	market := stream.NewMarketReader(
		transport.NewDialer(cfg.ChannelURL(config.ChannelLive), 0),
		cfg.MarketBuffer, metrics, logger)
	events := stream.NewEventReader(
		transport.NewDialer(cfg.ChannelURL(config.ChannelEvents), 0),
		engine, metrics, logger)

	var wg conc.WaitGroup
	wg.Go(func() { superviseStream(ctx, "live", logger, market.Run) })
	wg.Go(func() { superviseStream(ctx, "events", logger, events.Run) })
	wg.Go(func() { consumeMarket(ctx, market, logger) })
	if cfg.EvictionGrace > 0 {
		wg.Go(func() { sweepBook(ctx, book, cfg.EvictionGrace, metrics, logger) })
	}

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	return nil
}

// superviseStream restarts a stream reader with exponential backoff until
// the context is cancelled. A run that survived long enough to fail counts
// as progress and resets the backoff.
func superviseStream(ctx context.Context, name string, logger observability.Logger, run func(context.Context) error) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxStreamBackoff

	for {
		started := time.Now()
		err := run(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > time.Minute {
			backoffCfg.Reset()
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxStreamBackoff
		}
		logger.Warn("stream reader stopped, restarting",
			observability.F("channel", name),
			observability.F("error", err),
			observability.F("backoff", sleep))
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// sweepBook evicts settled order records past the grace period. Bind and
// Settle evict opportunistically; the sweep catches quiet periods with no
// order flow.
func sweepBook(ctx context.Context, book *orders.Book, grace time.Duration, metrics *telemetry.Metrics, logger observability.Logger) {
	ticker := time.NewTicker(grace)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := book.Evict(); n > 0 {
				metrics.EvictedRecords(ctx, int64(n))
				logger.Debug("settled order records evicted",
					observability.F("count", n),
					observability.F("remaining", book.Len()))
			}
		}
	}
}

func consumeMarket(ctx context.Context, market *stream.MarketReader, logger observability.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-market.Data():
			logger.Debug("market frame",
				observability.F("status", frame.Status),
				observability.F("bytes", len(frame.Data)))
		}
	}
}

// logNotifier reports order lifecycle transitions on the process log. A
// strategy runtime embedding the bridge supplies its own notifier instead.
type logNotifier struct {
	log observability.Logger
}

func (n *logNotifier) Submitted(ref string) { n.log.Info("order submitted", observability.F("ref", ref)) }
func (n *logNotifier) Accepted(ref string)  { n.log.Info("order accepted", observability.F("ref", ref)) }
func (n *logNotifier) Rejected(ref string)  { n.log.Warn("order rejected", observability.F("ref", ref)) }
func (n *logNotifier) Cancelled(ref string) { n.log.Info("order cancelled", observability.F("ref", ref)) }

func (n *logNotifier) Filled(ref string, size, price float64, reason string) {
	n.log.Info("order filled",
		observability.F("ref", ref),
		observability.F("size", size),
		observability.F("price", price),
		observability.F("reason", reason))
}

func (n *logNotifier) ExternalFill(symbol string, size, price float64) {
	n.log.Info("external fill",
		observability.F("symbol", symbol),
		observability.F("size", size),
		observability.F("price", price))
}
