package main

import (
	"context"
	"fmt"

	"github.com/vllry/transit-archive/pkg/config"
	"github.com/vllry/transit-archive/pkg/trigger"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// maxDeliveries bounds how many times one trigger is handled before it is
// committed regardless of outcome.
const maxDeliveries = 3

type Handler interface {
	Handle(ctx context.Context, t trigger.Trigger) error
}

// Consumer reads trigger messages from Kafka and hands them to a Handler.
// A message is committed once handled; a failed message is redelivered by
// seeking back to it, up to maxDeliveries times.
type Consumer struct {
	consumer *kafka.Consumer
	topics   map[string]trigger.Channel
	handler  Handler
	logger   *zap.Logger

	failures map[string]int
}

func NewConsumer(cfg config.KafkaConfig, handler Handler, logger *zap.Logger) (*Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Address,
		"group.id":           cfg.GroupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kafka consumer")
	}

	return newConsumer(c, cfg, handler, logger), nil
}

func newConsumer(c *kafka.Consumer, cfg config.KafkaConfig, handler Handler, logger *zap.Logger) *Consumer {
	return &Consumer{
		consumer: c,
		topics: map[string]trigger.Channel{
			cfg.RealtimeTopic: trigger.Realtime,
			cfg.StaticTopic:   trigger.Static,
		},
		handler:  handler,
		logger:   logger,
		failures: make(map[string]int),
	}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.consumer.Close()

	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		return errors.Wrap(err, "failed to subscribe")
	}
	c.logger.Info("Consuming triggers", zap.Strings("topics", topics))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stopping consumer")
			return nil
		default:
			ev := c.consumer.Poll(100)
			if ev == nil {
				continue
			}

			switch e := ev.(type) {
			case *kafka.Message:
				c.process(ctx, e)
			case kafka.Error:
				// The client recovers from most errors by itself.
				c.logger.Warn("Kafka error", zap.String("code", e.Code().String()), zap.Error(e))
			default:
				c.logger.Debug("Ignored kafka event", zap.String("event", e.String()))
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg *kafka.Message) {
	err := c.handleMessage(ctx, msg)
	if err != nil && c.redeliver(msg) {
		c.logger.Warn("Trigger failed, redelivering", zap.String("message", messageID(msg)), zap.Error(err))
		if seekErr := c.consumer.Seek(msg.TopicPartition, 0); seekErr != nil {
			c.logger.Error("Failed to seek to failed trigger", zap.Error(seekErr))
		}
		return
	}
	if err != nil {
		c.logger.Error("Trigger failed, giving up", zap.String("message", messageID(msg)), zap.Error(err))
	}

	if _, err := c.consumer.CommitMessage(msg); err != nil {
		c.logger.Error("Failed to commit trigger", zap.String("message", messageID(msg)), zap.Error(err))
	}
}

// handleMessage converts the message to a trigger and runs it.
func (c *Consumer) handleMessage(ctx context.Context, msg *kafka.Message) error {
	if msg.TopicPartition.Topic == nil {
		return errors.New("message has no topic")
	}
	channel, ok := c.topics[*msg.TopicPartition.Topic]
	if !ok {
		return errors.Errorf("no channel for topic %q", *msg.TopicPartition.Topic)
	}

	t, err := trigger.Parse(channel, msg.Value, msg.Timestamp)
	if err != nil {
		return err
	}
	return c.handler.Handle(ctx, t)
}

// redeliver records a failed delivery and reports whether another is allowed.
func (c *Consumer) redeliver(msg *kafka.Message) bool {
	id := messageID(msg)
	c.failures[id]++
	if c.failures[id] < maxDeliveries {
		return true
	}
	delete(c.failures, id)
	return false
}

func messageID(msg *kafka.Message) string {
	topic := ""
	if msg.TopicPartition.Topic != nil {
		topic = *msg.TopicPartition.Topic
	}
	return fmt.Sprintf("%s/%d@%d", topic, msg.TopicPartition.Partition, msg.TopicPartition.Offset)
}
