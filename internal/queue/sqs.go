package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"data-act-broker/internal/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/rs/zerolog"
)

type SQSQueue struct {
	client sqsiface.SQSAPI
	url    string
	log    zerolog.Logger
}

func NewSQSQueue(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*SQSQueue, error) {
	awsConfig := &aws.Config{Region: aws.String(cfg.Queue.AWSRegion)}
	if cfg.Queue.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Queue.Endpoint)
	}
	if cfg.Storage.S3.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.Storage.S3.AccessKey, cfg.Storage.S3.SecretKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, err
	}
	return NewSQSQueueWithClient(ctx, sqs.New(sess), cfg.Queue.SQSQueueName, log)
}

// NewSQSQueueWithClient resolves the queue url by name.
func NewSQSQueueWithClient(ctx context.Context, client sqsiface.SQSAPI, name string, log zerolog.Logger) (*SQSQueue, error) {
	out, err := client.GetQueueUrlWithContext(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve queue %s: %w", name, err)
	}
	return &SQSQueue{
		client: client,
		url:    aws.StringValue(out.QueueUrl),
		log:    log.With().Str("queue", name).Logger(),
	}, nil
}

func (q *SQSQueue) Receive(ctx context.Context, waitSeconds, visibilitySeconds int) (*Message, error) {
	out, err := q.client.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.url),
		MaxNumberOfMessages:   aws.Int64(1),
		WaitTimeSeconds:       aws.Int64(int64(waitSeconds)),
		VisibilityTimeout:     aws.Int64(int64(visibilitySeconds)),
		AttributeNames:        aws.StringSlice([]string{sqs.MessageSystemAttributeNameApproximateReceiveCount}),
		MessageAttributeNames: aws.StringSlice([]string{"All"}),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	raw := out.Messages[0]
	m := &Message{
		ID:            aws.StringValue(raw.MessageId),
		ReceiptHandle: aws.StringValue(raw.ReceiptHandle),
		Body:          aws.StringValue(raw.Body),
		Attributes:    make(map[string]string, len(raw.MessageAttributes)),
	}
	for k, v := range raw.MessageAttributes {
		m.Attributes[k] = aws.StringValue(v.StringValue)
	}
	if count, ok := raw.Attributes[sqs.MessageSystemAttributeNameApproximateReceiveCount]; ok {
		m.ReceiveCount, _ = strconv.Atoi(aws.StringValue(count))
	}
	return m, nil
}

func (q *SQSQueue) Delete(ctx context.Context, m *Message) error {
	_, err := q.client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(m.ReceiptHandle),
	})
	return err
}

func (q *SQSQueue) ChangeVisibility(ctx context.Context, m *Message, seconds int) error {
	_, err := q.client.ChangeMessageVisibilityWithContext(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.url),
		ReceiptHandle:     aws.String(m.ReceiptHandle),
		VisibilityTimeout: aws.Int64(int64(seconds)),
	})
	return err
}

type redrivePolicyDoc struct {
	DeadLetterTargetArn string          `json:"deadLetterTargetArn"`
	MaxReceiveCount     json.RawMessage `json:"maxReceiveCount"`
}

func (q *SQSQueue) RedrivePolicy(ctx context.Context) (*RedrivePolicy, error) {
	out, err := q.client.GetQueueAttributesWithContext(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.url),
		AttributeNames: aws.StringSlice([]string{sqs.QueueAttributeNameRedrivePolicy}),
	})
	if err != nil {
		return nil, err
	}
	raw, ok := out.Attributes[sqs.QueueAttributeNameRedrivePolicy]
	if !ok || aws.StringValue(raw) == "" {
		return nil, nil
	}
	return parseRedrivePolicy(aws.StringValue(raw))
}

// parseRedrivePolicy accepts maxReceiveCount as a number or a string, both
// of which SQS has been seen to return.
func parseRedrivePolicy(raw string) (*RedrivePolicy, error) {
	var doc redrivePolicyDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("malformed redrive policy: %w", err)
	}
	if doc.DeadLetterTargetArn == "" {
		return nil, nil
	}
	count, err := strconv.Atoi(strings.Trim(string(doc.MaxReceiveCount), `"`))
	if err != nil {
		return nil, fmt.Errorf("malformed redrive policy maxReceiveCount: %w", err)
	}
	return &RedrivePolicy{DeadLetterTarget: doc.DeadLetterTargetArn, MaxReceiveCount: count}, nil
}

func (q *SQSQueue) SendToDeadLetter(ctx context.Context, m *Message) error {
	policy, err := q.RedrivePolicy(ctx)
	if err != nil {
		return err
	}
	if policy == nil {
		return fmt.Errorf("queue %s: no dead-letter target", q.url)
	}

	// arn:aws:sqs:<region>:<account>:<name>
	parts := strings.Split(policy.DeadLetterTarget, ":")
	if len(parts) < 6 {
		return fmt.Errorf("malformed dead-letter arn %q", policy.DeadLetterTarget)
	}
	dlq, err := q.client.GetQueueUrlWithContext(ctx, &sqs.GetQueueUrlInput{
		QueueName:              aws.String(parts[5]),
		QueueOwnerAWSAccountId: aws.String(parts[4]),
	})
	if err != nil {
		return fmt.Errorf("failed to resolve dead-letter queue: %w", err)
	}

	if _, err := q.client.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:          dlq.QueueUrl,
		MessageBody:       aws.String(m.Body),
		MessageAttributes: toAttributeValues(m.Attributes),
	}); err != nil {
		return fmt.Errorf("failed to copy message %s to dead-letter queue: %w", m.ID, err)
	}
	return q.Delete(ctx, m)
}

func (q *SQSQueue) Send(ctx context.Context, body string, attributes map[string]string) error {
	_, err := q.client.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.url),
		MessageBody:       aws.String(body),
		MessageAttributes: toAttributeValues(attributes),
	})
	return err
}

func toAttributeValues(attrs map[string]string) map[string]*sqs.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]*sqs.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		out[k] = &sqs.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	return out
}
