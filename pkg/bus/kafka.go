package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mahaj/dhuan/pkg/chaterr"
	"github.com/mahaj/dhuan/pkg/logger"
	"github.com/mahaj/dhuan/pkg/metrics"
	"github.com/mahaj/dhuan/pkg/model"
)

// KafkaBus carries all scope channels on one topic, keyed by scope. Every
// subscription gets its own consumer group so each subscriber sees the full
// stream (fan-out, not work sharing) and filters to its scope.
type KafkaBus struct {
	brokers []string
	topic   string
	writer  *kafka.Writer
}

func NewKafkaBus(brokers []string, topic string) *KafkaBus {
	return &KafkaBus{
		brokers: brokers,
		topic:   topic,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (b *KafkaBus) Publish(ctx context.Context, sc string, ev model.Event) error {
	ev.Scope = sc
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(sc),
		Value: payload,
		Time:  time.Now(),
	})
	if err != nil {
		return chaterr.Transient(err, "bus publish")
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()
	return nil
}

func (b *KafkaBus) Subscribe(ctx context.Context, sc string, h Handler) (*Subscription, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: b.brokers,
		Topic:   b.topic,
		// Unique group per subscription so every subscriber receives the
		// full stream.
		GroupID:     fmt.Sprintf("sub-%s-%d", sc, time.Now().UnixNano()),
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	// Surface broker unavailability at subscribe time instead of the first
	// read, so the reconnector's backoff applies.
	dialCtx, cancelDial := context.WithTimeout(ctx, 5*time.Second)
	defer cancelDial()
	conn, err := kafka.DialContext(dialCtx, "tcp", b.brokers[0])
	if err != nil {
		_ = reader.Close()
		return nil, chaterr.Transient(err, "bus subscribe")
	}
	_ = conn.Close()

	// The subscription outlives the subscribe call's context; its lifetime
	// ends only via Close.
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			m, err := reader.ReadMessage(runCtx)
			if err != nil {
				if runCtx.Err() == nil {
					logger.Warn("bus_reader_stopped", "scope", sc, "error", err)
				}
				return
			}
			var ev model.Event
			if err := json.Unmarshal(m.Value, &ev); err != nil {
				logger.Warn("bus_event_unmarshal_failed", "error", err)
				continue
			}
			if ev.Scope != sc {
				continue
			}
			metrics.EventsDelivered.Inc()
			h(ev)
		}
	}()

	return NewSubscription(sc, func() {
		cancel()
		_ = reader.Close()
		<-done
	}), nil
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}
