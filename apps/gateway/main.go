package main

import (
	"context"
	"net/http"

	"github.com/mahaj/dhuan/pkg/bus"
	"github.com/mahaj/dhuan/pkg/config"
	"github.com/mahaj/dhuan/pkg/logger"
	"github.com/mahaj/dhuan/pkg/presence"
)

func main() {
	logger.Init()
	cfg := config.Load()

	deliveryBus := bus.NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer deliveryBus.Close()

	tracker := presence.NewRedisTracker(cfg.RedisAddr)
	defer tracker.Close()

	hub := NewHub(deliveryBus, tracker, bus.RetryPolicy{
		Base:        cfg.BackoffBase,
		Cap:         cfg.BackoffCap,
		MaxAttempts: cfg.MaxSubscribeTry,
		Timeout:     cfg.SubscribeTimeout,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})

	logger.Info("gateway_listening", "addr", cfg.GatewayAddr)
	if err := http.ListenAndServe(cfg.GatewayAddr, nil); err != nil {
		logger.Error("gateway_serve_failed", "error", err)
	}
}
