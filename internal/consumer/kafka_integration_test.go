//go:build integration

package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/workoutstats/internal/events"
	"example.com/workoutstats/internal/outbox"
)

type syncInvalidator struct {
	mu   sync.Mutex
	keys []string
}

func (s *syncInvalidator) InvalidateOlder(_ context.Context, tenantID, userID string, totalWorkouts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, fmt.Sprintf("%s/%s@%d", tenantID, userID, totalWorkouts))
	return nil
}

func (s *syncInvalidator) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

func TestKafkaStatsEventInvalidatesCache(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.RunContainer(ctx, testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	broker := brokers[0]

	topic := "stats_updates"
	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{broker},
		GroupID:     "workout-stats-integration",
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	inv := &syncInvalidator{}
	consumerCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = NewProcessor(reader, NewCacheHandler(inv)).Run(consumerCtx)
	}()

	producer := outbox.NewKafkaProducer([]string{broker})
	defer producer.Close()

	payload, err := json.Marshal(events.StatsUpdated{
		TenantID:      "tenant",
		UserID:        "user",
		Date:          "2024-06-10",
		DayWorkouts:   1,
		TotalWorkouts: 4,
		OccurredAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	value := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(value[1:5], 11)
	copy(value[5:], payload)

	require.NoError(t, producer.WriteMessages(ctx, topic, kafka.Message{
		Key:   []byte("user"),
		Value: value,
		Headers: []kafka.Header{
			{Key: outbox.HeaderEventType, Value: []byte(events.TypeStatsUpdated)},
			{Key: outbox.HeaderTenantID, Value: []byte("tenant")},
			{Key: outbox.HeaderSchemaSubject, Value: []byte("stats_updates-value")},
		},
	}))

	require.Eventually(t, func() bool {
		keys := inv.seen()
		return len(keys) == 1 && keys[0] == "tenant/user@4"
	}, 30*time.Second, 500*time.Millisecond)
}
