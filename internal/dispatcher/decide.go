package dispatcher

import (
	"data-act-broker/pkg/errors"
)

// Disposition is what happens to a message once its child has exited.
type Disposition int

const (
	// Delete removes the message; the job ran to completion.
	Delete Disposition = iota
	// Leave keeps the message invisible until its timeout lapses so the
	// queue's redrive policy decides between retry and dead-letter.
	Leave
	// ReturnNow makes the message visible to other consumers immediately.
	ReturnNow
	// DeadLetter copies the message to the dead-letter queue and deletes it.
	DeadLetter
)

func (d Disposition) String() string {
	switch d {
	case Delete:
		return "delete"
	case Leave:
		return "leave"
	case ReturnNow:
		return "return_now"
	case DeadLetter:
		return "dead_letter"
	}
	return "unknown"
}

// Decide maps a child exit code to a disposition. Negative codes mean the
// child was terminated by the signal of that number.
func Decide(exitCode int, retriesExhausted, redrivePresent bool) (Disposition, error) {
	switch {
	case exitCode == 0:
		return Delete, nil
	case exitCode > 0:
		return Leave, nil
	case !retriesExhausted:
		return ReturnNow, nil
	case redrivePresent:
		return DeadLetter, nil
	default:
		return Leave, &errors.QueueWorkDispatcherError{
			Message: "cannot dead-letter message",
			Err:     errors.ErrNoRedrivePolicy,
		}
	}
}

// RetriesExhausted is true when retries are disabled or the message was
// already received as often as the redrive policy allows.
func RetriesExhausted(allowRetries bool, receiveCount, maxReceiveCount int) bool {
	if !allowRetries {
		return true
	}
	return maxReceiveCount > 0 && receiveCount >= maxReceiveCount
}
