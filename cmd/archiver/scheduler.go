package main

import (
	"context"
	"time"

	"github.com/vllry/transit-archive/pkg/config"
	"github.com/vllry/transit-archive/pkg/trigger"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Scheduler produces trigger messages: a realtime trigger at the top of every
// minute and a static trigger every staticEvery, starting with one at launch.
type Scheduler struct {
	producer    *kafka.Producer
	topics      map[trigger.Channel]string
	staticEvery time.Duration
	logger      *zap.Logger
}

func NewScheduler(cfg config.KafkaConfig, staticEvery time.Duration, logger *zap.Logger) (*Scheduler, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": cfg.Address})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kafka producer")
	}
	return newScheduler(p, cfg, staticEvery, logger), nil
}

func newScheduler(p *kafka.Producer, cfg config.KafkaConfig, staticEvery time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		producer: p,
		topics: map[trigger.Channel]string{
			trigger.Realtime: cfg.RealtimeTopic,
			trigger.Static:   cfg.StaticTopic,
		},
		staticEvery: staticEvery,
		logger:      logger,
	}
}

// Run emits triggers until ctx is done, then flushes pending messages.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.producer.Close()

	go s.logDeliveries()

	s.emit(trigger.Trigger{Channel: trigger.Static, Time: time.Now()})

	static := time.NewTicker(s.staticEvery)
	defer static.Stop()

	next := time.NewTimer(untilNextMinute(time.Now()))
	defer next.Stop()

	for {
		select {
		case <-ctx.Done():
			if remaining := s.producer.Flush(15 * 1000); remaining > 0 {
				s.logger.Warn("Triggers left unsent at shutdown", zap.Int("count", remaining))
			}
			s.logger.Info("Stopping scheduler")
			return nil
		case now := <-next.C:
			s.emit(trigger.Trigger{Channel: trigger.Realtime, Time: now.Truncate(time.Minute)})
			next.Reset(untilNextMinute(time.Now()))
		case now := <-static.C:
			s.emit(trigger.Trigger{Channel: trigger.Static, Time: now})
		}
	}
}

func (s *Scheduler) emit(t trigger.Trigger) {
	msg, err := s.message(t)
	if err == nil {
		// Delivery reports arrive on the producer's Events channel.
		err = s.producer.Produce(msg, nil)
	}
	if err != nil {
		s.logger.Error("Failed to produce trigger", zap.String("channel", string(t.Channel)), zap.Error(err))
		return
	}
	s.logger.Debug("Produced trigger", zap.String("channel", string(t.Channel)), zap.Time("trigger_time", t.Time))
}

func (s *Scheduler) message(t trigger.Trigger) (*kafka.Message, error) {
	topic, ok := s.topics[t.Channel]
	if !ok {
		return nil, errors.Errorf("no topic for channel %q", t.Channel)
	}
	value, err := trigger.Encode(t)
	if err != nil {
		return nil, err
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          value,
		Timestamp:      t.Time,
	}, nil
}

func (s *Scheduler) logDeliveries() {
	for e := range s.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				s.logger.Error("Trigger delivery failed", zap.String("message", messageID(ev)), zap.Error(ev.TopicPartition.Error))
			}
		case kafka.Error:
			s.logger.Warn("Kafka error", zap.String("code", ev.Code().String()), zap.Error(ev))
		}
	}
}

func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}
