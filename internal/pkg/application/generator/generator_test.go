package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/diwise/iot-telemetry-mgmt/pkg/types"
	"github.com/jonboulle/clockwork"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func TestProducedEventsMatchThePushShape(t *testing.T) {
	is := is.New(t)

	g := New(clockwork.NewFakeClock(), 1)

	for i := 0; i < 50; i++ {
		evt := g.Produce()
		is.True(evt.DeviceName != "")
		is.True(evt.IPAddress != "")
		is.True(evt.MetricTypeID >= 1 && evt.MetricTypeID <= 5)
		is.True(evt.MetricValue >= 0 && evt.MetricValue < 100)
		is.True(evt.Location != nil)
	}

	is.Equal(50, g.Len())
}

func TestDrainEmptiesBuffer(t *testing.T) {
	is := is.New(t)

	g := New(nil, 1)
	g.Produce()
	g.Produce()

	is.Equal(2, len(g.Drain()))
	is.Equal(0, len(g.Drain()))
}

func TestRunProducesOnEveryTick(t *testing.T) {
	is := is.New(t)

	clock := clockwork.NewFakeClock()
	g := New(clock, 1)
	g.clearInterval = time.Hour

	stop := run(g)

	clock.BlockUntil(2)
	clock.Advance(DefaultProduceInterval)
	waitFor(t, func() bool { return g.Len() == 1 })

	clock.Advance(DefaultProduceInterval)
	waitFor(t, func() bool { return g.Len() == 2 })

	stop()
	is.Equal(2, len(g.Drain()))
}

func TestRunClearsBufferPeriodically(t *testing.T) {
	is := is.New(t)

	clock := clockwork.NewFakeClock()
	g := New(clock, 1)
	g.produceInterval = time.Hour

	g.Produce()
	g.Produce()

	stop := run(g)

	clock.BlockUntil(2)
	clock.Advance(DefaultClearInterval)
	waitFor(t, func() bool { return g.Len() == 0 })

	stop()
	is.Equal(0, g.Len())
}

func run(g *Generator) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		g.Run(ctx)
		close(done)
	}()

	return func() {
		cancel()
		<-done
	}
}

func TestEventsHandlerDrainsBuffer(t *testing.T) {
	is := is.New(t)

	g := New(nil, 1)
	g.Produce()

	handler := EventsHandler(zerolog.Logger{}, g)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/events", nil))
	is.Equal(http.StatusOK, res.Code)

	events := []types.TelemetryEvent{}
	is.NoErr(json.Unmarshal(res.Body.Bytes(), &events))
	is.Equal(1, len(events))

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/events", nil))
	is.Equal("[]", res.Body.String())
}

func waitFor(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
