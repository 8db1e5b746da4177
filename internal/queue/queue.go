// Package queue abstracts the work queue the dispatcher polls: SQS in
// production and a redis list queue for local runs.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"data-act-broker/internal/config"

	"github.com/rs/zerolog"
)

// AttributeWorkType selects the dispatch branch of a message.
const AttributeWorkType = "work_type"

const (
	WorkTypeValidation     = "validation"
	WorkTypeFileGeneration = "file_generation"
)

// Message is one received queue message.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
	Attributes    map[string]string
	ReceiveCount  int
}

// Attribute returns a message attribute or an empty string.
func (m *Message) Attribute(name string) string {
	if m == nil || m.Attributes == nil {
		return ""
	}
	return m.Attributes[name]
}

// JobID parses the body as a base-10 job id.
func (m *Message) JobID() (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(m.Body), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("message %s body %q is not a job id: %w", m.ID, m.Body, err)
	}
	return id, nil
}

// RedrivePolicy names the dead-letter target and the receive count after
// which the queue moves a message there on its own.
type RedrivePolicy struct {
	DeadLetterTarget string
	MaxReceiveCount  int
}

type Queue interface {
	// Receive long-polls for at most one message. It returns nil, nil when
	// the wait elapses without a message.
	Receive(ctx context.Context, waitSeconds, visibilitySeconds int) (*Message, error)
	Delete(ctx context.Context, m *Message) error
	ChangeVisibility(ctx context.Context, m *Message, seconds int) error
	// RedrivePolicy returns nil when the queue has none.
	RedrivePolicy(ctx context.Context) (*RedrivePolicy, error)
	// SendToDeadLetter copies m to the dead-letter target and deletes it.
	SendToDeadLetter(ctx context.Context, m *Message) error
	Send(ctx context.Context, body string, attributes map[string]string) error
}

// New builds the queue backend selected by configuration.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Queue, func() error, error) {
	switch cfg.Queue.Backend {
	case "redis":
		client, err := NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return client.Queue(log), client.Close, nil
	default:
		q, err := NewSQSQueue(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return q, func() error { return nil }, nil
	}
}
