package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/walletmux/walletmux/pkg/log"
	"github.com/walletmux/walletmux/pkg/provider"
	"github.com/walletmux/walletmux/pkg/rpcserver"
)

func main() {
	logger := newRootLogger()

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	resolver, err := buildResolver(config)
	if err != nil {
		logger.Fatal("failed to resolve accounts", "error", err)
	}
	logger.Info("accounts resolved",
		"mode", config.Mode,
		"count", len(resolver.Addresses()),
		"default", resolver.Default().Hex(),
	)

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelDial()
	upstream, err := provider.Dial(dialCtx, config.UpstreamURL)
	if err != nil {
		logger.Fatal("failed to connect upstream", "url", config.UpstreamURL, "error", err)
	}
	defer upstream.Close()

	metrics := NewMetrics()

	chain, err := buildChain(config, resolver, metrics.InstrumentProvider(upstream), logger)
	if err != nil {
		logger.Fatal("failed to compose handler chain", "error", err)
	}

	var dispatcher rpcserver.Dispatcher = chain
	if config.HistoryDatabaseURL != "" {
		dbConf, err := ParseConnectionString(config.HistoryDatabaseURL)
		if err != nil {
			logger.Fatal("invalid history database URL", "error", err)
		}
		db, err := ConnectToDB(dbConf)
		if err != nil {
			logger.Fatal("failed to connect to history database", "error", err)
		}
		store, err := NewHistoryStore(db)
		if err != nil {
			logger.Fatal("failed to initialize history store", "error", err)
		}
		dispatcher = newRecordingDispatcher(chain, store, logger)
		logger.Info("call history enabled", "driver", dbConf.Driver)
	}

	server, err := rpcserver.NewServer(rpcserver.Config{
		Dispatcher:    dispatcher,
		Subscriptions: upstream,
		Logger:        logger,
		OnConnect: func() {
			metrics.ConnectedClients.Inc()
			metrics.ConnectionsTotal.Inc()
		},
		OnDisconnect: func() {
			metrics.ConnectedClients.Dec()
		},
		OnRequest: func(method string) {
			metrics.RPCRequests.WithLabelValues(method).Inc()
		},
	})
	if err != nil {
		logger.Fatal("failed to create RPC server", "error", err)
	}

	metricsServer := startMetricsServer(config.MetricsPort, logger)

	addr, err := server.Listen(config.ListenHost, config.ListenPort)
	if err != nil {
		logger.Fatal("failed to start RPC server", "error", err)
	}
	logger.Info("RPC server available", "address", addr.String())

	server.WaitUntilClosed()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down metrics server", "error", err)
	}

	logger.Info("shutdown complete")
}

// startMetricsServer exposes Prometheus metrics on a separate port.
func startMetricsServer(port int, logger log.Logger) *http.Server {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: metricsMux,
	}

	go func() {
		logger.Info("Prometheus metrics available", "listenAddr", metricsServer.Addr, "endpoint", "/metrics")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failure", "error", err)
		}
	}()
	return metricsServer
}
