package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mahaj/dhuan/pkg/auth"
	"github.com/mahaj/dhuan/pkg/bus"
	"github.com/mahaj/dhuan/pkg/config"
	"github.com/mahaj/dhuan/pkg/db"
	"github.com/mahaj/dhuan/pkg/groups"
	"github.com/mahaj/dhuan/pkg/logger"
	"github.com/mahaj/dhuan/pkg/presence"
	"github.com/mahaj/dhuan/pkg/retention"
	"github.com/mahaj/dhuan/pkg/snowflake"
	"github.com/mahaj/dhuan/pkg/store"
	"github.com/mahaj/dhuan/pkg/sweep"
)

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	logger.Init()
	cfg := config.Load()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		logger.Error("scylla_connect_failed", "error", err)
		return
	}
	defer session.Close()

	node, err := snowflake.NewNode(1)
	if err != nil {
		logger.Error("snowflake_init_failed", "error", err)
		return
	}

	deliveryBus := bus.NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer deliveryBus.Close()

	registry := groups.NewScyllaRegistry(session)
	settings := retention.NewScyllaSettings(session)
	resolver := retention.NewResolver(registry, settings)

	// Every successful store mutation feeds the change-feed path of the bus.
	messages := store.NewScyllaStore(session, node, resolver, registry,
		bus.NewPublishSink(deliveryBus), cfg.MaxContentRunes)

	sweeper := sweep.New(messages)
	stopSweeper, err := sweeper.Start(context.Background(), cfg.SweepCron)
	if err != nil {
		logger.Error("sweeper_start_failed", "error", err)
		return
	}
	defer stopSweeper()

	tracker := presence.NewRedisTracker(cfg.RedisAddr)
	defer tracker.Close()

	h := &handlers{
		store:    messages,
		settings: settings,
		sweeper:  sweeper,
		presence: tracker,
	}

	http.Handle("/login", CORSMiddleware(http.HandlerFunc(LoginHandler)))
	http.Handle("/messages", CORSMiddleware(auth.Middleware(http.HandlerFunc(h.messages))))
	http.Handle("/messages/pin", CORSMiddleware(auth.Middleware(http.HandlerFunc(h.pin))))
	http.Handle("/admin/cleanup", CORSMiddleware(auth.Middleware(http.HandlerFunc(h.cleanup))))
	http.Handle("/admin/retention", CORSMiddleware(auth.Middleware(http.HandlerFunc(h.retention))))
	http.Handle("/scopes/", CORSMiddleware(auth.Middleware(http.HandlerFunc(h.scopeClients))))
	http.Handle("/metrics", promhttp.Handler())

	logger.Info("api_listening", "addr", cfg.APIAddr)
	if err := http.ListenAndServe(cfg.APIAddr, nil); err != nil {
		logger.Error("api_serve_failed", "error", err)
	}
}
