// Package consumer implements the ConsumerWorker: a franz-go consumer-group
// client wired with the per-topic KafkaSecurityDirective, mirroring
// producer's construction shape (§4.6).
package consumer

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

// Worker consumes one Kafka topic on behalf of a test run, as a member of a
// per-test consumer group so replays don't collide across concurrent tests.
type Worker struct {
	client *kgo.Client
}

// New constructs a Worker for directive against bootstrapServers, joining
// groupID and installing OAuth bearer credentials derived from the
// directive's JaasConfig when the protocol is SASL_SSL.
func New(bootstrapServers []string, directive model.KafkaSecurityDirective, groupID string, registerer prometheus.Registerer) (*Worker, error) {
	metrics := kprom.NewMetrics("", kprom.Registerer(registerer))

	opts := []kgo.Opt{
		kgo.SeedBrokers(bootstrapServers...),
		kgo.ConsumeTopics(directive.Topic),
		kgo.ConsumerGroup(groupID),
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
		return nil, errorkind.Wrap(errorkind.FatalBooting, "constructing kafka consumer client", err)
	}

	return &Worker{client: client}, nil
}

// Poll fetches the next batch of records, blocking until at least one record
// arrives, ctx is cancelled, or a non-retryable fetch error occurs.
func (w *Worker) Poll(ctx context.Context) ([]*kgo.Record, error) {
	fetches := w.client.PollFetches(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var fetchErr error
	fetches.EachError(func(topic string, partition int32, err error) {
		if fetchErr == nil {
			fetchErr = errorkind.Wrap(errorkind.StorageTransport, "fetching kafka records from "+topic, err)
		}
	})
	if fetchErr != nil {
		return nil, fetchErr
	}
	return fetches.Records(), nil
}

func (w *Worker) Close() {
	w.client.Close()
}

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

func (t *tokenSource) Token(context.Context) (oauth.Auth, error) {
	return oauth.Auth{Zid: t.clientID, Token: t.token}, nil
}
