//go:build integration

package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"regdesk/internal/events"
	"regdesk/internal/platform/config"
	"regdesk/pkg/testutil/containers"
)

func TestKafkaRoundTrip(t *testing.T) {
	broker := containers.GetManager().GetRedpanda(t).Broker
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.KafkaConfig{Brokers: []string{broker}, Topic: "regdesk.it.registrations"}
	client, err := events.Connect(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	// Creating the topic twice is harmless.
	again, err := events.Connect(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	again.Close()

	evt := events.New(events.TypeSubmitted, 3, 1001, 1001, "pending", time.Now())
	require.NoError(t, events.NewKafka(client, cfg.Topic).Publish(ctx, evt))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	var got events.Event
	records := fetches.Records()
	require.NotEmpty(t, records)
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	require.Equal(t, evt.ID, got.ID)
	require.Equal(t, "3", string(records[0].Key))
}
