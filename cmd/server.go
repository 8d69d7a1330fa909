package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/scott/kvdns/config"
	"github.com/scott/kvdns/healthcheck"
	"github.com/scott/kvdns/metrics"
	"github.com/scott/kvdns/querylog"
	"github.com/scott/kvdns/resolver"
	"github.com/scott/kvdns/rrl"
	"github.com/scott/kvdns/server"
	"github.com/scott/kvdns/storage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve DNS queries from the record store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

func init() {
	flags := serverCmd.Flags()
	flags.String("addr", "127.0.0.1", "listen address")
	flags.Int("port", 53, "TCP port")
	flags.Int("udp-port", 53, "UDP port")
	flags.Bool("tcp", false, "enable the TCP listener")
	flags.Bool("udp", false, "enable the UDP listener")
	flags.Int("workers", 1, "listeners per transport, sharing the port with SO_REUSEPORT")
	flags.String("metrics-listen", "", "address serving /metrics, /healthz and /queries")
	bindFlags(flags, map[string]string{
		"server.addr":     "addr",
		"server.port":     "port",
		"server.udp_port": "udp-port",
		"server.tcp":      "tcp",
		"server.udp":      "udp",
		"server.workers":  "workers",
		"metrics.listen":  "metrics-listen",
	})
}

func runServer(ctx context.Context, cfg *config.Config) error {
	backend, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warnf("closing backend: %v", err)
		}
	}()

	codec, err := storage.NewCodec(cfg.Store.Codec)
	if err != nil {
		return err
	}

	collector := metrics.New()
	store, err := storage.New(storage.Options{
		Backend:   backend,
		Codec:     codec,
		Observer:  collector,
		CacheSize: cfg.Cache.Size,
		CacheTTL:  cfg.Cache.TTL,
		SOA:       cfg.SOA.Defaults(),
	})
	if err != nil {
		return err
	}

	checker := healthcheck.NewChecker(cfg.HealthCheck)
	checker.OnStatusChange = func(_ string, healthy bool) {
		collector.SetStoreUp(healthy)
	}
	checker.AddTarget("store", backend)
	collector.SetStoreUp(true)
	checker.Start()
	defer checker.Stop()

	limiter := rrl.New(cfg.RateLimit)
	defer limiter.Stop()
	queries := querylog.New(cfg.QueryLog)

	srv, err := server.New(server.Options{
		Config:      cfg.Server,
		Store:       store,
		Resolver:    resolver.New(store, resolver.Options{MaxChainHops: cfg.Resolver.MaxChainHops}),
		RateLimiter: limiter,
		QueryLog:    queries,
		Metrics:     collector,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		mux.Handle("/healthz", checker.Handler())
		mux.Handle("/queries", queries.Handler())
		httpServer := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Infof("serving metrics on %s", cfg.Metrics.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Info("server stopped")
	return err
}
