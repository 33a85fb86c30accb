package executor

import (
	"fmt"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/worker/consumer"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/worker/producer"
)

func newProducerWorker(collab Collaborators, directive model.KafkaSecurityDirective) (*producer.Worker, error) {
	return producer.New(collab.BootstrapServers, directive, collab.Registerer)
}

func newConsumerWorker(collab Collaborators, id model.TestID, directive model.KafkaSecurityDirective) (*consumer.Worker, error) {
	groupID := fmt.Sprintf("%s-%s", collab.ConsumerGroupPrefix, id)
	return consumer.New(collab.BootstrapServers, directive, groupID, collab.Registerer)
}
