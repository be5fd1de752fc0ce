package usecase

import (
	"context"
	"fmt"

	"MarketPulse/internal/bus"
	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/marketdata"
	"MarketPulse/pkg/kafka"
	"MarketPulse/pkg/logger"
)

// KafkaBridge fans bus events out to Kafka topics so downstream consumers
// (dashboards, recorders) see the same stream the in-process handlers do.
// Delivery failures surface as handler errors and ride the bus retry path.
type KafkaBridge struct {
	log            *logger.Logger
	producer       *kafka.Producer
	updatesTopic   string
	conditionTopic string
}

func NewKafkaBridge(log *logger.Logger, producer *kafka.Producer, updatesTopic, conditionTopic string) *KafkaBridge {
	return &KafkaBridge{
		log:            log,
		producer:       producer,
		updatesTopic:   updatesTopic,
		conditionTopic: conditionTopic,
	}
}

// Register subscribes the bridge's handlers on the bus and returns the
// registration ids.
func (k *KafkaBridge) Register(b *bus.Bus) []string {
	return []string{
		b.Subscribe(updateHandler{k}),
		b.Subscribe(conditionHandler{k}),
	}
}

func (k *KafkaBridge) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}

type updateHandler struct{ k *KafkaBridge }

func (h updateHandler) Name() string           { return "kafka_bridge_updates" }
func (h updateHandler) Kind() models.EventKind { return models.EventMarketDataUpdate }

func (h updateHandler) Handle(ctx context.Context, e *models.Event) error {
	p, ok := e.Payload.(*marketdata.UpdatePayload)
	if !ok || p.Observation == nil {
		return fmt.Errorf("unexpected update payload %T", e.Payload)
	}
	return h.k.producer.Publish(ctx, h.k.updatesTopic, []byte(p.Observation.Symbol), p.Observation)
}

type conditionHandler struct{ k *KafkaBridge }

func (h conditionHandler) Name() string           { return "kafka_bridge_conditions" }
func (h conditionHandler) Kind() models.EventKind { return models.EventMarketConditionUpdate }

func (h conditionHandler) Handle(ctx context.Context, e *models.Event) error {
	snap, ok := e.Payload.(*models.ConditionSnapshot)
	if !ok {
		return fmt.Errorf("unexpected condition payload %T", e.Payload)
	}
	return h.k.producer.Publish(ctx, h.k.conditionTopic, []byte(snap.Symbol), snap)
}
