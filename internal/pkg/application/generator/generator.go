package generator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-telemetry-mgmt/pkg/types"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultProduceInterval = 2 * time.Second
	DefaultClearInterval   = 300 * time.Second
)

var devices = []string{
	"Router-01", "Router-05", "Router-22",
	"Switch-02", "Switch-10", "Switch-50",
	"Firewall-03", "Firewall-09", "Firewall-15",
}

var addresses = []string{
	"192.168.1.1", "192.168.1.2", "192.168.2.10", "192.168.77.1",
	"172.16.0.1", "172.18.5.1", "10.0.0.1", "10.10.10.9", "10.1.15.1",
}

var locations = []string{
	"Moscow, DC-1", "St. Petersburg, Office", "Kazan, Node A",
	"Yekaterinburg, DC", "Novosibirsk, DC", "Omsk, Node-7",
	"Moscow, Sormovo Office",
}

var actions = []string{
	"CPU usage spike", "Memory usage high", "Bandwidth usage normal",
	"High latency detected", "Connection reset", "Packet loss detected",
}

const metricTypeCount = 5

// Generator buffers synthetic telemetry until it is drained.
type Generator struct {
	mu     sync.Mutex
	buffer []types.TelemetryEvent
	rnd    *rand.Rand
	clock  clockwork.Clock

	produceInterval time.Duration
	clearInterval   time.Duration
}

func New(clock clockwork.Clock, seed int64) *Generator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Generator{
		buffer:          []types.TelemetryEvent{},
		rnd:             rand.New(rand.NewSource(seed)),
		clock:           clock,
		produceInterval: DefaultProduceInterval,
		clearInterval:   DefaultClearInterval,
	}
}

// Run produces an event every produce interval and empties the buffer every clear interval
// until ctx is done.
func (g *Generator) Run(ctx context.Context) {
	logger := logging.GetFromContext(ctx)

	produce := g.clock.NewTicker(g.produceInterval)
	defer produce.Stop()

	clear := g.clock.NewTicker(g.clearInterval)
	defer clear.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-produce.Chan():
			evt := g.Produce()
			logger.Debug().Str("device_name", evt.DeviceName).Int("metric_type_id", evt.MetricTypeID).Msg("event produced")
		case <-clear.Chan():
			g.Clear()
			logger.Debug().Msg("buffer cleared")
		}
	}
}

// Produce creates a random event and appends it to the buffer.
func (g *Generator) Produce() types.TelemetryEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	location := pick(g.rnd, locations)
	action := pick(g.rnd, actions)

	evt := types.TelemetryEvent{
		DeviceName:        pick(g.rnd, devices),
		IPAddress:         pick(g.rnd, addresses),
		Location:          &location,
		MetricTypeID:      g.rnd.Intn(metricTypeCount) + 1,
		MetricValue:       g.rnd.Float64() * 100,
		ActionDescription: &action,
	}

	g.buffer = append(g.buffer, evt)

	return evt
}

// Drain returns the buffered events and empties the buffer.
func (g *Generator) Drain() []types.TelemetryEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	events := g.buffer
	g.buffer = []types.TelemetryEvent{}

	return events
}

func (g *Generator) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.buffer = []types.TelemetryEvent{}
}

func (g *Generator) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.buffer)
}

func pick(rnd *rand.Rand, values []string) string {
	return values[rnd.Intn(len(values))]
}
