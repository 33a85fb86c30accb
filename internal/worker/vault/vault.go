// Package vault implements the VaultWorker (§4.5): the per-topic credential
// fetch algorithm shared by every vault.Provider, including the linear-backoff
// retry loop and the local-provider fast path.
package vault

import (
	"context"
	"sync"
	"time"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/credmap"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/errorkind"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/jaas"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/template"
	provider "github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/vault"
)

// RetryPolicy is the §4.5 linear-escalation retry configuration.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
}

// Worker fans a vault fetch out across a BlockStorageDirective's
// TopicDirectives, one request per topic, in parallel, composing the results
// back in list order.
type Worker struct {
	providerName string
	provider     provider.Provider
	mapping      credmap.RosettaMapping
	cfg          template.ConfigLookup
	oauth        jaas.Params // shared token-endpoint/scope defaults (§6.6 vault.oauth)
	retry        RetryPolicy
}

func New(providerName string, p provider.Provider, mapping credmap.RosettaMapping, cfg template.ConfigLookup, oauthDefaults jaas.Params, retry RetryPolicy) *Worker {
	return &Worker{
		providerName: providerName,
		provider:     p,
		mapping:      mapping,
		cfg:          cfg,
		oauth:        oauthDefaults,
		retry:        retry,
	}
}

// FetchSecurityDirectives implements the VaultWorker public contract (§4.5).
func (w *Worker) FetchSecurityDirectives(ctx context.Context, bsd model.BlockStorageDirective) ([]model.KafkaSecurityDirective, error) {
	results := make([]model.KafkaSecurityDirective, len(bsd.TopicDirectives))
	errs := make([]error, len(bsd.TopicDirectives))

	var wg sync.WaitGroup
	for i, td := range bsd.TopicDirectives {
		wg.Add(1)
		go func(i int, td model.TopicDirective) {
			defer wg.Done()
			results[i], errs[i] = w.fetchOne(ctx, td)
		}(i, td)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (w *Worker) fetchOne(ctx context.Context, td model.TopicDirective) (model.KafkaSecurityDirective, error) {
	if w.providerName == "local" {
		return model.KafkaSecurityDirective{
			Topic:      td.Topic,
			Role:       td.Role,
			Protocol:   model.ProtocolPlaintext,
			JaasConfig: "",
		}, nil
	}

	request, err := template.Substitute(w.mapping.RequestTemplate, td, w.cfg)
	if err != nil {
		if kinded, ok := err.(interface{ Kind() errorkind.Kind }); ok {
			return model.KafkaSecurityDirective{}, errorkind.Wrap(kinded.Kind(), "building vault request for topic "+td.Topic, err)
		}
		return model.KafkaSecurityDirective{}, errorkind.Wrap(errorkind.VaultMapping, "building vault request for topic "+td.Topic, err)
	}
	requestBody, _ := request.(map[string]any)

	response, err := w.invokeWithRetry(ctx, requestBody)
	if err != nil {
		return model.KafkaSecurityDirective{}, err
	}

	fields, err := credmap.Apply(response, w.mapping.Mappings, []string{"clientId", "clientSecret"})
	if err != nil {
		return model.KafkaSecurityDirective{}, errorkind.Wrap(errorkind.VaultMapping, "mapping vault response for topic "+td.Topic, err)
	}

	tokenURL := fields["tokenEndpoint"]
	if tokenURL == "" {
		tokenURL = w.oauth.TokenURL
	}
	scope := fields["scope"]
	if scope == "" {
		scope = w.oauth.Scope
	}

	jaasCfg, err := jaas.Build(jaas.Params{
		ClientID:     fields["clientId"],
		ClientSecret: fields["clientSecret"],
		TokenURL:     tokenURL,
		Scope:        scope,
	})
	if err != nil {
		return model.KafkaSecurityDirective{}, errorkind.Wrap(errorkind.VaultMapping, "building jaas config for topic "+td.Topic, err)
	}

	return model.KafkaSecurityDirective{
		Topic:      td.Topic,
		Role:       td.Role,
		Protocol:   model.ProtocolSASLSSL,
		JaasConfig: jaasCfg,
	}, nil
}

// invokeWithRetry drives provider.Invoke through the §4.5 retry policy: up to
// MaxAttempts calls, sleeping `initial * attempt` (linear escalation) between
// retryable failures. Only VaultRateLimit/VaultServiceUnavailable/VaultTimeout
// are retried; every other ErrorKind returns immediately.
func (w *Worker) invokeWithRetry(ctx context.Context, request map[string]any) (map[string]any, error) {
	var lastErr error
	for attempt := 1; attempt <= w.retry.MaxAttempts; attempt++ {
		response, err := w.provider.Invoke(ctx, request)
		if err == nil {
			return response, nil
		}
		lastErr = err

		ek, ok := errorkind.As(err)
		if !ok || !errorkind.Retryable(ek.Kind) {
			return nil, err
		}
		if attempt == w.retry.MaxAttempts {
			break
		}

		timer := time.NewTimer(w.retry.Initial * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}
