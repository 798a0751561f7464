package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const eventSource string = "github.com/diwise/iot-telemetry-mgmt"

type timestamped interface {
	EventTime() time.Time
}

type cloudEventSender struct {
	client      cloudevents.Client
	subscribers []string
}

// NewCloudEventSender returns a sink posting cloud events to the subscriber endpoints.
// No sink is created when there are no subscribers.
func NewCloudEventSender(subscribers []string) (Sink, error) {
	if len(subscribers) == 0 {
		return nil, nil
	}

	c, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, err
	}

	return &cloudEventSender{
		client:      c,
		subscribers: subscribers,
	}, nil
}

func (s *cloudEventSender) Send(ctx context.Context, msg TopicMessage) error {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(eventSource)
	event.SetType(msg.TopicName())

	if t, ok := msg.(timestamped); ok {
		event.SetTime(t.EventTime())
	}

	err := event.SetData(msg.ContentType(), msg)
	if err != nil {
		return err
	}

	logger := logging.GetFromContext(ctx)

	for _, endpoint := range s.subscribers {
		ctxWithTarget := cloudevents.ContextWithTarget(ctx, endpoint)

		result := s.client.Send(ctxWithTarget, event)
		if cloudevents.IsUndelivered(result) || errors.Is(result, unix.ECONNREFUSED) {
			logger.Error().Err(result).Msgf("failed to send event to %s", endpoint)
			err = fmt.Errorf("%w", result)
		}
	}

	return err
}
