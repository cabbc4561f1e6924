package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"homedash/config"
	"homedash/db"
	"homedash/feeds"
	"homedash/network"
	"homedash/server"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 60 * time.Second

// serveCmd runs the HTTP server together with the two background loops
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the homedash API",
		Description: `Starts the homedash HTTP server, the liveness monitor and the
feed refresher.

Connects to the database, applies pending migrations and then runs until
interrupted. The scan and refresh intervals are required and accept either
a number of seconds or a duration such as 90s or 5m.`,
		Flags: []cli.Flag{
			databaseFlag(),
			connectTimeoutFlag(),
			&cli.StringFlag{
				Name:     "network-scan-interval",
				Usage:    "Time between liveness sweeps (seconds or duration)",
				EnvVars:  []string{"NETWORK_SCAN_INTERVAL"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "feed-refresh-interval",
				Usage:    "Time between feed refreshes (seconds or duration)",
				EnvVars:  []string{"FEED_REFRESH_INTERVAL"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "host",
				Value:   "127.0.0.1",
				Usage:   "Address to bind the HTTP server to",
				EnvVars: []string{"HOMEDASH_HOST"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8080,
				Usage:   "Port to bind the HTTP server to",
				EnvVars: []string{"HOMEDASH_PORT"},
			},
			&cli.StringFlag{
				Name:    "cors-origins",
				Value:   "*",
				Usage:   "Comma separated list of origins allowed to call the API",
				EnvVars: []string{"HOMEDASH_CORS_ORIGINS"},
			},
			&cli.DurationFlag{
				Name:    "probe-timeout",
				Value:   network.DefaultProbeTimeout,
				Usage:   "How long to wait for an echo reply",
				EnvVars: []string{"HOMEDASH_PROBE_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:    "probe-concurrency",
				Value:   network.DefaultProbeConcurrency,
				Usage:   "Maximum number of probes in flight",
				EnvVars: []string{"HOMEDASH_PROBE_CONCURRENCY"},
			},
			&cli.BoolFlag{
				Name:    "privileged-icmp",
				Usage:   "Use raw ICMP sockets instead of unprivileged datagram sockets (needs CAP_NET_RAW)",
				EnvVars: []string{"HOMEDASH_PRIVILEGED_ICMP"},
			},
			&cli.DurationFlag{
				Name:    "fetch-timeout",
				Value:   feeds.DefaultFetchTimeout,
				Usage:   "Timeout of a single feed download",
				EnvVars: []string{"HOMEDASH_FETCH_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:    "fetch-concurrency",
				Value:   feeds.DefaultFetchConcurrency,
				Usage:   "Maximum number of feed downloads in flight",
				EnvVars: []string{"HOMEDASH_FETCH_CONCURRENCY"},
			},
			&cli.StringFlag{
				Name:    "cache-strategy",
				Value:   string(feeds.StrategySwap),
				Usage:   "How a refresh publishes its results: swap or clear",
				EnvVars: []string{"HOMEDASH_CACHE_STRATEGY"},
			},
			&cli.IntFlag{
				Name:    "max-consecutive-failures",
				Value:   network.DefaultMaxConsecutiveFailures,
				Usage:   "Failed cycles in a row before a loop gives up, 0 retries forever",
				EnvVars: []string{"HOMEDASH_MAX_CONSECUTIVE_FAILURES"},
			},
		},
		Action: func(ctx *cli.Context) error {
			scanInterval, err := config.ParseInterval(ctx.String("network-scan-interval"))
			if err != nil {
				return fmt.Errorf("network-scan-interval: %w", err)
			}
			refreshInterval, err := config.ParseInterval(ctx.String("feed-refresh-interval"))
			if err != nil {
				return fmt.Errorf("feed-refresh-interval: %w", err)
			}
			strategy, err := feeds.ParseStrategy(ctx.String("cache-strategy"))
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			database := ctx.String("database")
			store, err := db.Open(sigCtx, database, ctx.Duration("db-connect-timeout"))
			if err != nil {
				return err
			}
			defer store.Close()

			if err := db.Migrate(database); err != nil {
				return err
			}

			bc := server.NewBroadcaster()
			cache := feeds.NewCache()

			prober := network.NewICMPProber(ctx.Duration("probe-timeout"), ctx.Bool("privileged-icmp"))
			if err := prober.Ready(); err != nil {
				return fmt.Errorf("liveness probes cannot run: %w", err)
			}
			if prober.Privileged && !ctx.Bool("privileged-icmp") {
				log.Warn("Unprivileged ICMP sockets are denied, falling back to raw sockets")
			}

			monitor := network.NewMonitor(
				store,
				prober,
				network.MonitorConfig{
					Interval:               scanInterval,
					Concurrency:            ctx.Int("probe-concurrency"),
					MaxConsecutiveFailures: ctx.Int("max-consecutive-failures"),
					OnTransition:           bc.BroadcastStatusChange,
				},
			)

			refresher := feeds.NewRefresher(
				store,
				feeds.NewHTTPFetcher(ctx.Duration("fetch-timeout")),
				feeds.GofeedParser{},
				cache,
				feeds.RefresherConfig{
					Interval:               refreshInterval,
					Concurrency:            ctx.Int("fetch-concurrency"),
					Strategy:               strategy,
					MaxConsecutiveFailures: ctx.Int("max-consecutive-failures"),
					OnRefresh:              bc.BroadcastFeedRefresh,
				},
			)

			app := server.Server(&server.ServerConfig{
				Store:        store,
				Feeds:        cache,
				Broadcaster:  bc,
				AllowOrigins: ctx.String("cors-origins"),
			})

			addr := ctx.String("host") + ":" + strconv.Itoa(ctx.Int("port"))

			g, gctx := errgroup.WithContext(sigCtx)
			g.Go(func() error { return monitor.Run(gctx) })
			g.Go(func() error { return refresher.Run(gctx) })
			g.Go(func() error {
				log.WithFields(log.Fields{
					"address": addr,
				}).Info("Starting server")
				if err := app.Listen(addr); err != nil {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("Gracefully shutting down...")
				// Open event streams would otherwise hold the shutdown
				bc.Shutdown()
				return app.ShutdownWithTimeout(shutdownTimeout)
			})

			if err := g.Wait(); err != nil {
				return err
			}
			log.Info("Done!")
			return nil
		},
	}
}
