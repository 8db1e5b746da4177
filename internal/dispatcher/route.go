package dispatcher

import (
	"fmt"

	"data-act-broker/internal/queue"
	"data-act-broker/pkg/errors"
)

// Route picks the child job and its arguments for a message.
type Route func(m *queue.Message) (job string, args []string, err error)

// Extractor turns a message into job arguments.
type Extractor func(m *queue.Message) ([]string, error)

// Selector picks a job and its arguments from a message.
type Selector func(m *queue.Message) (job string, args []string, err error)

// WithMessage runs the same job for every message, with arguments taken
// from the message followed by additional.
func WithMessage(job string, extract Extractor, additional ...string) Route {
	return func(m *queue.Message) (string, []string, error) {
		args, err := extract(m)
		if err != nil {
			return "", nil, err
		}
		return job, append(args, additional...), nil
	}
}

// ByAttribute lets the selector choose the job, typically from the
// work_type attribute.
func ByAttribute(selector Selector, additional ...string) Route {
	return func(m *queue.Message) (string, []string, error) {
		job, args, err := selector(m)
		if err != nil {
			return "", nil, err
		}
		return job, append(args, additional...), nil
	}
}

// BodyAsArgument passes the message body as the only argument.
func BodyAsArgument(m *queue.Message) ([]string, error) {
	return []string{m.Body}, nil
}

// WorkTypeSelector maps the work_type attribute to a job name. Messages
// without the attribute use fallback when it is set.
func WorkTypeSelector(jobs map[string]string, fallback string) Selector {
	return func(m *queue.Message) (string, []string, error) {
		workType := m.Attribute(queue.AttributeWorkType)
		if workType == "" {
			workType = fallback
		}
		job, ok := jobs[workType]
		if !ok {
			return "", nil, &errors.QueueWorkDispatcherError{
				Message: fmt.Sprintf("no job registered for work type %q", workType),
			}
		}
		return job, []string{m.Body}, nil
	}
}
