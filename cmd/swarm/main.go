// Command swarm connects a swarm of bots to a Bedrock server.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriumgames/swarm"
	"github.com/oriumgames/swarm/bedrock"
	"github.com/oriumgames/swarm/nick"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sandertv/gophertunnel/minecraft/auth"
)

var (
	configPath = flag.String("config", "", "YAML configuration file")
	address    = flag.String("address", "", "Target server host:port, overrides the config")
	count      = flag.Int("count", 0, "Number of bots, overrides the config")
)

func main() {
	flag.Parse()

	conf, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *address != "" {
		conf.Address = *address
	}
	if *count > 0 {
		conf.Count = *count
	}
	if err := conf.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := conf.Log.Logger(os.Stdout)
	if err != nil {
		log.Fatalf("Invalid log config: %v", err)
	}
	slog.SetDefault(logger)

	nicks, err := nick.Load(conf.Nicks.File, conf.Nicks.Prefix)
	if err != nil {
		log.Fatalf("Failed to load nicknames: %v", err)
	}
	proxies, err := conf.Proxies.LoadProxies()
	if err != nil {
		log.Fatalf("Failed to load proxies: %v", err)
	}

	transport := bedrock.NewTransport()
	transport.Log = logger
	if conf.Online {
		transport.TokenSource = auth.TokenSource
	}

	metrics := swarm.NewMetrics()
	if conf.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg); err != nil {
			log.Fatalf("Failed to register metrics: %v", err)
		}
		go serveMetrics(conf.Metrics.Listen, reg, logger)
	}

	mngr, err := swarm.NewBuilder().
		Address(conf.Address).
		Transport(transport).
		Nicknames(nicks).
		Terrain(swarm.FlatTerrain(conf.Ground)).
		RespawnDelay(conf.RespawnDelay).
		Gravity(conf.Gravity).
		JoinMessages(conf.JoinMessages...).
		Latency(conf.Latency.Min, conf.Latency.Max).
		Logger(logger).
		Metrics(metrics).
		Init()
	if err != nil {
		log.Fatalf("Failed to start swarm: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("swarm: starting",
		"address", mngr.Config().Address,
		"count", conf.Count,
		"proxies", len(proxies),
		"gravity", conf.Gravity,
		"online", conf.Online,
	)

	loader := swarm.NewLoader(mngr, swarm.LoaderConfig{
		Count:    conf.Count,
		DelayMin: conf.Delay.Min,
		DelayMax: conf.Delay.Max,
		Proxies:  proxies,
	})
	loader.Spin(ctx)

	<-ctx.Done()
	logger.Info("swarm: shutting down", "bots", mngr.Count(), "tried", loader.TriedToConnect())
	loader.Wait()
	mngr.Shutdown()
}

// serveMetrics serves the metrics of reg on addr.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("swarm: serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("swarm: metrics server failed", "err", err)
	}
}
