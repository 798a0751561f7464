package generator

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// EventsHandler responds with the buffered events and drains the buffer.
func EventsHandler(log zerolog.Logger, g *Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events := g.Drain()

		b, err := json.Marshal(events)
		if err != nil {
			log.Error().Err(err).Msg("unable to marshal events")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		log.Info().Int("count", len(events)).Msg("buffer drained")

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}
