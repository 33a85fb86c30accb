// Package producer implements the ProducerWorker: a franz-go client wired
// with the per-topic KafkaSecurityDirective, grounded on
// pkg/ingest/partition_offset_client_test.go's client-construction shape
// (§4.6).
package producer

import (
	"context"
	"crypto/tls"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/oauth"
	"github.com/twmb/franz-go/plugin/kprom"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/errorkind"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/jaas"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
)

// Worker produces onto one Kafka topic on behalf of a test run. It reports
// readiness once its client is constructed (New does not contact the
// brokers), mirroring the ChildReady contract every TestExecutor child
// collaborator follows (§4.6).
type Worker struct {
	client  *kgo.Client
	topic   string
	metrics *kprom.Metrics
}

// New constructs a Worker for directive against bootstrapServers, installing
// OAuth bearer credentials derived from the directive's JaasConfig when the
// protocol is SASL_SSL (the "local" PLAINTEXT protocol skips SASL entirely).
func New(bootstrapServers []string, directive model.KafkaSecurityDirective, registerer prometheus.Registerer) (*Worker, error) {
	metrics := kprom.NewMetrics("", kprom.Registerer(registerer))

	opts := []kgo.Opt{
		kgo.SeedBrokers(bootstrapServers...),
		kgo.DefaultProduceTopic(directive.Topic),
		kgo.WithHooks(metrics),
	}

	if directive.Protocol == model.ProtocolSASLSSL {
		tokenSource, err := newTokenSource(directive.JaasConfig)
		if err != nil {
			return nil, errorkind.Wrap(errorkind.VaultMapping, "constructing oauth token source", err)
		}
		opts = append(opts,
			kgo.SASL(oauth.Oauth(tokenSource.Token)),
			kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}),
		)
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errorkind.Wrap(errorkind.FatalBooting, "constructing kafka producer client", err)
	}

	return &Worker{client: client, topic: directive.Topic, metrics: metrics}, nil
}

// Produce sends one record synchronously, surfacing any broker error as a
// CucumberFailure-adjacent errorkind — the record path itself is driven by
// the Cucumber step catalogue, out of scope here (§4.6, Non-goals).
func (w *Worker) Produce(ctx context.Context, key, value []byte) error {
	record := &kgo.Record{Topic: w.topic, Key: key, Value: value}
	result := w.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		return errorkind.Wrap(errorkind.StorageTransport, "producing kafka record", err)
	}
	return nil
}

func (w *Worker) Close() {
	w.client.Close()
}

// tokenSource implements oauth.TokenProvider against a pre-built JAAS
// configuration: the producer/consumer workers don't re-derive a token, they
// reuse the credentials the VaultWorker already fetched (§3.5).
type tokenSource struct {
	clientID string
	token    string
}

func newTokenSource(jaasCfg model.JaasConfig) (*tokenSource, error) {
	raw := jaasCfg.Reveal()
	if err := jaas.Validate(raw); err != nil {
		return nil, err
	}
	clientSecret, _ := jaas.ExtractQuoted(raw, "oauth.client.secret")
	clientID, _ := jaas.ExtractQuoted(raw, "oauth.client.id")
	return &tokenSource{clientID: clientID, token: clientSecret}, nil
}

// Token satisfies oauth.TokenProvider: the bearer token handed to the broker
// during SASL handshake. Test-Probe treats the client secret as a static
// bearer token rather than performing its own OAuth token-endpoint exchange,
// since that exchange already happened once upstream during vault fetch
// (Non-goals: "implementing the Kafka wire protocol").
func (t *tokenSource) Token(context.Context) (oauth.Auth, error) {
	return oauth.Auth{Zid: t.clientID, Token: t.token}, nil
}
