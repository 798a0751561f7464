package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-telemetry-mgmt/pkg/types"
)

// Notifier forwards anomalous readings to whoever wants to know about them.
type Notifier interface {
	AnomalyDetected(ctx context.Context, anomaly types.AnomalyDetected) error
}

// TopicMessage is a message that can be published on a topic exchange.
type TopicMessage interface {
	ContentType() string
	TopicName() string
}

type Sink interface {
	Send(ctx context.Context, msg TopicMessage) error
}

// DefaultSendTimeout bounds how long a single sink may take to accept a notification.
const DefaultSendTimeout = 5 * time.Second

type notifier struct {
	sinks   []Sink
	timeout time.Duration
}

// New returns a Notifier that fans out to every sink. Sinks that are nil are ignored.
func New(sinks ...Sink) Notifier {
	return NewWithTimeout(DefaultSendTimeout, sinks...)
}

// NewWithTimeout is like New but gives up on a sink after timeout.
func NewWithTimeout(timeout time.Duration, sinks ...Sink) Notifier {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}

	n := &notifier{timeout: timeout}
	for _, s := range sinks {
		if s != nil {
			n.sinks = append(n.sinks, s)
		}
	}
	return n
}

func (n *notifier) AnomalyDetected(ctx context.Context, anomaly types.AnomalyDetected) error {
	logger := logging.GetFromContext(ctx)

	var errs []error

	for _, s := range n.sinks {
		if err := n.send(ctx, s, &anomaly); err != nil {
			logger.Error().Err(err).Str("device_name", anomaly.DeviceName).Msg("failed to deliver anomaly notification")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// send returns when the sink is done or the timeout has passed, whichever comes first.
// A sink that ignores its context is left behind.
func (n *notifier) send(ctx context.Context, s Sink, msg TopicMessage) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- s.Send(ctx, msg)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("notification was not delivered in time: %w", ctx.Err())
	}
}
