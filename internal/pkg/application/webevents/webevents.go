package webevents

import (
	"encoding/json"
	"strconv"
	"sync/atomic"

	gosse "github.com/alexandrevicenzi/go-sse"
	"github.com/diwise/iot-telemetry-mgmt/pkg/types"
)

const TelemetryRecorded string = "telemetryRecorded"

// Broadcaster pushes stored telemetry to every connected event stream client.
type Broadcaster interface {
	Handler() *gosse.Server
	RecordStored(record types.TelemetryRecord) error
	Shutdown()
}

type broadcaster struct {
	s   *gosse.Server
	seq atomic.Uint64
}

func New() Broadcaster {
	return &broadcaster{
		s: gosse.NewServer(&gosse.Options{
			Headers: map[string]string{
				"Cache-Control": "no-cache",
			},
		}),
	}
}

func (b *broadcaster) Handler() *gosse.Server {
	return b.s
}

func (b *broadcaster) RecordStored(record types.TelemetryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	id := strconv.FormatUint(b.seq.Add(1), 10)
	b.s.SendMessage("", gosse.NewMessage(id, string(data), TelemetryRecorded))

	return nil
}

func (b *broadcaster) Shutdown() {
	b.s.Shutdown()
}
