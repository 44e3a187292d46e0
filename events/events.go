// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package events publishes mutation notifications to Kafka. Publishing is
// best effort. A failed publish is logged and never surfaced to the caller,
// the primary operation has already succeeded at that point.
package events

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/cuido-tech/cuido-bff/core"
	"github.com/cuido-tech/cuido-bff/core/logger"
)

// Notification describes a completed mutation on a resource
type Notification struct {
	Resource   string         `json:"resource"`
	Operation  core.Operation `json:"operation"`
	ResourceID string         `json:"resource_id"`
	Payload    interface{}    `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Publisher emits notifications after successful mutations
type Publisher interface {
	Publish(ctx context.Context, resource string, operation core.Operation, resourceID string, payload interface{})
	Close() error
}

// KafkaPublisher writes notifications to a single topic, keyed by resource
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher returns a publisher connected to the given brokers
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	logger.Default().Debugln("kafka events enabled on topic ", topic)
	return &KafkaPublisher{writer: writer}
}

// Publish emits a single notification. Errors are logged only.
func (p *KafkaPublisher) Publish(ctx context.Context, resource string, operation core.Operation, resourceID string, payload interface{}) {
	notification := Notification{
		Resource:   resource,
		Operation:  operation,
		ResourceID: resourceID,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	value, err := json.Marshal(notification)
	if err != nil {
		logger.FromContext(ctx).Errorf("marshal notification %s %s: %v", resource, operation, err)
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(resource),
		Value: value,
	})
	if err != nil {
		logger.FromContext(ctx).Errorf("publish notification %s %s: %v", resource, operation, err)
	}
}

// Close flushes and closes the underlying writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NullPublisher discards all notifications. Used when no brokers are configured.
type NullPublisher struct{}

// Publish does nothing
func (NullPublisher) Publish(context.Context, string, core.Operation, string, interface{}) {}

// Close does nothing
func (NullPublisher) Close() error { return nil }
