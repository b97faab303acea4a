package main

import (
	"context"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vllry/transit-archive/pkg/config"
	"github.com/vllry/transit-archive/pkg/trigger"
)

type fakeHandler struct {
	handled []trigger.Trigger
	err     error
}

func (h *fakeHandler) Handle(_ context.Context, t trigger.Trigger) error {
	h.handled = append(h.handled, t)
	return h.err
}

func testConsumer(h Handler) *Consumer {
	return newConsumer(nil, config.KafkaConfig{
		RealtimeTopic: "fetch-realtime",
		StaticTopic:   "fetch-static",
	}, h, zap.NewNop())
}

func message(topic string, offset int64, value string, ts time.Time) *kafka.Message {
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: kafka.Offset(offset)},
		Value:          []byte(value),
		Timestamp:      ts,
	}
}

func TestConsumer_handleMessage(t *testing.T) {
	delivered := time.Date(2022, 8, 22, 1, 3, 7, 0, time.UTC)

	tests := []struct {
		name      string
		message   *kafka.Message
		expect    trigger.Trigger
		expectErr bool
	}{
		{
			name:    "realtime with time",
			message: message("fetch-realtime", 1, `{"time": "2022-08-22T01:03:00Z"}`, delivered),
			expect:  trigger.Trigger{Channel: trigger.Realtime, Time: time.Date(2022, 8, 22, 1, 3, 0, 0, time.UTC)},
		},
		{
			name:    "realtime falls back to delivery time",
			message: message("fetch-realtime", 2, ``, delivered),
			expect:  trigger.Trigger{Channel: trigger.Realtime, Time: delivered},
		},
		{
			name:    "static",
			message: message("fetch-static", 3, `{}`, delivered),
			expect:  trigger.Trigger{Channel: trigger.Static, Time: delivered},
		},
		{
			name:      "unknown topic",
			message:   message("fetch-weekly", 4, `{}`, delivered),
			expectErr: true,
		},
		{
			name:      "no topic",
			message:   &kafka.Message{Value: []byte(`{}`)},
			expectErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := &fakeHandler{}
			c := testConsumer(h)

			err := c.handleMessage(context.Background(), tc.message)
			if tc.expectErr {
				assert.Error(t, err)
				assert.Empty(t, h.handled)
				return
			}
			require.NoError(t, err)
			require.Len(t, h.handled, 1)
			assert.Equal(t, tc.expect.Channel, h.handled[0].Channel)
			assert.True(t, tc.expect.Time.Equal(h.handled[0].Time), "got %s", h.handled[0].Time)
		})
	}
}

func TestConsumer_handleMessage_handlerError(t *testing.T) {
	h := &fakeHandler{err: errors.New("bus archive: upstream down")}
	c := testConsumer(h)

	err := c.handleMessage(context.Background(), message("fetch-realtime", 1, `{}`, time.Now()))
	assert.ErrorContains(t, err, "upstream down")
}

func TestConsumer_redeliver(t *testing.T) {
	c := testConsumer(&fakeHandler{})
	first := message("fetch-realtime", 10, `{}`, time.Now())
	second := message("fetch-realtime", 11, `{}`, time.Now())

	assert.True(t, c.redeliver(first))
	assert.True(t, c.redeliver(first))
	assert.True(t, c.redeliver(second), "offsets are tracked separately")
	assert.False(t, c.redeliver(first), "third failure gives up")

	// Giving up resets the count.
	assert.True(t, c.redeliver(first))
}
