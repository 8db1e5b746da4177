package queue

import (
	"context"
	"strconv"
)

// Sender is the publishing half of a Queue.
type Sender interface {
	Send(ctx context.Context, body string, attributes map[string]string) error
}

// Producer publishes jobs that became ready.
type Producer struct {
	sender Sender
}

func NewProducer(sender Sender) *Producer {
	return &Producer{sender: sender}
}

// EnqueueJob sends the job id as the body with its work type attribute.
func (p *Producer) EnqueueJob(ctx context.Context, jobID int64, workType string) error {
	return p.sender.Send(ctx, strconv.FormatInt(jobID, 10), map[string]string{AttributeWorkType: workType})
}
