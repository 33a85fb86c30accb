package consumer_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/worker/consumer"
)

const testTopic = "orders"

func TestPollReturnsProducedRecords(t *testing.T) {
	fake, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, testTopic))
	require.NoError(t, err)
	t.Cleanup(fake.Close)
	addr := fake.ListenAddrs()[0]

	producerClient, err := kgo.NewClient(kgo.SeedBrokers(addr), kgo.DefaultProduceTopic(testTopic))
	require.NoError(t, err)
	defer producerClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := producerClient.ProduceSync(ctx, &kgo.Record{Key: []byte("k1"), Value: []byte("v1")})
	require.NoError(t, result.FirstErr())

	directive := model.KafkaSecurityDirective{
		Topic:    testTopic,
		Role:     model.RoleConsumer,
		Protocol: model.ProtocolPlaintext,
	}
	w, err := consumer.New([]string{addr}, directive, "test-group", prometheus.NewPedanticRegistry())
	require.NoError(t, err)
	defer w.Close()

	records, err := w.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "v1", string(records[0].Value))
}

func TestNewRejectsMalformedSASLJaasConfig(t *testing.T) {
	directive := model.KafkaSecurityDirective{
		Topic:      testTopic,
		Role:       model.RoleConsumer,
		Protocol:   model.ProtocolSASLSSL,
		JaasConfig: model.JaasConfig("not a jaas config"),
	}

	_, err := consumer.New([]string{"127.0.0.1:0"}, directive, "test-group", prometheus.NewPedanticRegistry())
	require.Error(t, err)
}
