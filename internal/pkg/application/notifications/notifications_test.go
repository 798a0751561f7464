package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/diwise/iot-telemetry-mgmt/pkg/types"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func TestNotifierFansOutToAllSinks(t *testing.T) {
	is := is.New(t)

	first := &sinkStub{}
	second := &sinkStub{}

	n := New(first, nil, second)

	err := n.AnomalyDetected(context.Background(), anomaly())
	is.NoErr(err)
	is.Equal(1, len(first.sent))
	is.Equal(1, len(second.sent))
	is.Equal("telemetry.anomaly", first.sent[0].TopicName())
}

func TestNotifierKeepsSendingAfterFailingSink(t *testing.T) {
	is := is.New(t)

	failing := &sinkStub{err: errors.New("broker down")}
	working := &sinkStub{}

	err := New(failing, working).AnomalyDetected(context.Background(), anomaly())
	is.True(err != nil)
	is.Equal(1, len(working.sent))
}

func TestNotifierGivesUpOnSinkThatNeverReturns(t *testing.T) {
	is := is.New(t)

	blocked := &blockingSink{release: make(chan struct{})}
	defer close(blocked.release)

	working := &sinkStub{}

	start := time.Now()
	err := NewWithTimeout(50*time.Millisecond, blocked, working).AnomalyDetected(context.Background(), anomaly())

	is.True(errors.Is(err, context.DeadlineExceeded))
	is.True(time.Since(start) < 2*time.Second)
	is.Equal(1, len(working.sent))
}

func TestNotifierReturnsWhenSubscriberStalls(t *testing.T) {
	is := is.New(t)

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	sink, err := NewCloudEventSender([]string{server.URL})
	is.NoErr(err)

	done := make(chan error, 1)
	go func() {
		done <- NewWithTimeout(100*time.Millisecond, sink).AnomalyDetected(context.Background(), anomaly())
	}()

	select {
	case err := <-done:
		is.True(err != nil)
	case <-time.After(5 * time.Second):
		t.Fatal("notifier still blocked by a stalled subscriber")
	}
}

func TestTopicPublisherDoesNotConnectUntilFirstSend(t *testing.T) {
	is := is.New(t)

	p, err := NewTopicPublisher("amqp://guest:guest@"+closedAddress(t)+"/", zerolog.Logger{})
	is.NoErr(err)
	defer p.Close()

	a := anomaly()
	err = p.Send(context.Background(), &a)
	is.True(err != nil)

	// a later send tries again instead of failing on a stale connection
	err = p.Send(context.Background(), &a)
	is.True(err != nil)
}

func TestTopicPublisherRejectsBadURL(t *testing.T) {
	is := is.New(t)

	_, err := NewTopicPublisher("http://not-a-broker", zerolog.Logger{})
	is.True(err != nil)
}

func TestCloudEventIsPostedToSubscriber(t *testing.T) {
	is := is.New(t)

	received := make(chan map[string]any, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		data := map[string]any{}
		_ = json.Unmarshal(body, &data)

		received <- map[string]any{
			"type": r.Header.Get("Ce-Type"),
			"data": data,
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, err := NewCloudEventSender([]string{server.URL})
	is.NoErr(err)

	a := anomaly()
	err = sink.Send(context.Background(), &a)
	is.NoErr(err)

	select {
	case r := <-received:
		is.Equal("telemetry.anomaly", r["type"])
		data := r["data"].(map[string]any)
		is.Equal("router-01", data["device_name"])
		is.Equal(float64(97.5), data["metric_value"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestNoCloudEventSenderWithoutSubscribers(t *testing.T) {
	is := is.New(t)

	sink, err := NewCloudEventSender(nil)
	is.NoErr(err)
	is.True(sink == nil)
}

type sinkStub struct {
	sent []TopicMessage
	err  error
}

func (s *sinkStub) Send(ctx context.Context, msg TopicMessage) error {
	s.sent = append(s.sent, msg)
	return s.err
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Send(ctx context.Context, msg TopicMessage) error {
	<-s.release
	return nil
}

// closedAddress returns an address that nothing listens on.
func closedAddress(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %s", err.Error())
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func anomaly() types.AnomalyDetected {
	return types.AnomalyDetected{
		DeviceName:   "router-01",
		IPAddress:    "10.0.0.1",
		MetricTypeID: 1,
		MetricValue:  97.5,
		RecordedAt:   time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}
