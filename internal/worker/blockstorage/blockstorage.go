// Package blockstorage implements the BlockStorageWorker (§4.4): the shared
// fetch/validate/upload pipeline in front of every storage.Transport.
package blockstorage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/errorkind"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/storage"
)

const featuresDir = "features"

// Worker fetches and validates a bundle, then uploads evidence back, sharing
// one validation pipeline across whichever storage.Transport is configured
// (§4.4: "providers supply only transport").
type Worker struct {
	transport    storage.Transport
	staging      *storage.Staging
	manifestName string
}

func New(transport storage.Transport, staging *storage.Staging, manifestName string) *Worker {
	return &Worker{transport: transport, staging: staging, manifestName: manifestName}
}

// Fetch downloads testId's bundle from bucket into a fresh staging namespace,
// validates its shape, and returns the resulting BlockStorageDirective. The
// caller owns releasing the staging namespace (§4.4 cleanup guarantee) — Fetch
// itself only populates it, since the directive's StagedLocation must remain
// readable for the rest of the test's lifetime.
func (w *Worker) Fetch(ctx context.Context, testID model.TestID, bucket string) (model.BlockStorageDirective, error) {
	ns := w.staging.Acquire(testID)

	objCh, errCh := w.transport.FetchObjects(ctx, bucket, string(testID))
	for obj := range objCh {
		ns.Write(obj.Key, obj.Data)
	}
	if err := <-errCh; err != nil {
		w.staging.Release(testID)
		return model.BlockStorageDirective{}, errorkind.Wrap(errorkind.StorageTransport, "fetching bundle", err)
	}

	if err := validateFeatures(ns); err != nil {
		w.staging.Release(testID)
		return model.BlockStorageDirective{}, err
	}

	manifest, err := w.loadManifest(ns)
	if err != nil {
		w.staging.Release(testID)
		return model.BlockStorageDirective{}, err
	}

	return model.BlockStorageDirective{
		TestID:          testID,
		Bucket:          bucket,
		StagedLocation:  string(testID),
		EvidenceDir:     path.Join(string(testID), "evidence"),
		TopicDirectives: manifest.Topics,
	}, nil
}

// validateFeatures distinguishes a features/ directory that never appeared in
// the fetched object set from one whose only entries are themselves
// zero-length placeholder objects (common for directory markers on object
// stores): both leave the test with nothing to run, but are reported as
// distinct ErrorKinds per §4.4.
func validateFeatures(ns *storage.Namespace) error {
	entries := ns.List(featuresDir + "/")
	if len(entries) == 0 {
		return errorkind.New(errorkind.MissingFeaturesDirectory, "features directory is missing")
	}
	for _, key := range entries {
		if data, ok := ns.Read(key); ok && len(data) > 0 {
			return nil
		}
	}
	return errorkind.New(errorkind.EmptyFeaturesDirectory, "features directory has no non-empty feature files")
}

func (w *Worker) loadManifest(ns *storage.Namespace) (model.TopicDirectiveManifest, error) {
	raw, ok := ns.Read(w.manifestName)
	if !ok {
		return model.TopicDirectiveManifest{}, errorkind.New(errorkind.MissingTopicDirectiveFile, "topic directive manifest not found: "+w.manifestName)
	}

	var manifest model.TopicDirectiveManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return model.TopicDirectiveManifest{}, errorkind.Wrap(errorkind.InvalidTopicDirectiveFmt, "parsing topic directive manifest", err)
	}
	if err := validateManifest(manifest); err != nil {
		return model.TopicDirectiveManifest{}, err
	}
	return manifest, nil
}

func validateManifest(m model.TopicDirectiveManifest) error {
	if len(m.Topics) == 0 {
		return errorkind.New(errorkind.InvalidTopicDirectiveFmt, "manifest lists no topics")
	}
	for i, td := range m.Topics {
		if strings.TrimSpace(td.Topic) == "" {
			return errorkind.New(errorkind.InvalidTopicDirectiveFmt, fmt.Sprintf("topics[%d]: topic is required", i))
		}
		if td.Role != model.RoleProducer && td.Role != model.RoleConsumer {
			return errorkind.New(errorkind.InvalidTopicDirectiveFmt, fmt.Sprintf("topics[%d]: role must be PRODUCER or CONSUMER, got %q", i, td.Role))
		}
		if strings.TrimSpace(td.ClientPrincipal) == "" {
			return errorkind.New(errorkind.InvalidTopicDirectiveFmt, fmt.Sprintf("topics[%d]: clientPrincipal is required", i))
		}
	}
	return nil
}

// Upload mirrors evidenceDir's contents from the staging namespace back to
// bucket under {testId}/evidence/, then unconditionally releases the staging
// namespace — the cleanup guarantee holds on both the success and the failure
// path (§4.4).
func (w *Worker) Upload(ctx context.Context, testID model.TestID, bucket string) error {
	defer w.staging.Release(testID)

	ns := w.staging.Acquire(testID)
	evidencePrefix := "evidence/"
	files := ns.Snapshot(evidencePrefix)
	if len(files) == 0 {
		return nil
	}

	if err := w.transport.PutObjects(ctx, bucket, path.Join(string(testID), "evidence"), files); err != nil {
		return errorkind.Wrap(errorkind.StorageTransport, "uploading evidence", err)
	}
	return nil
}
