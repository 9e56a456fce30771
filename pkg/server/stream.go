package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/helix/pkg/events"
)

const streamTopic = "chat"

// streamTurn runs a turn and relays its events to the client as NDJSON. A
// per-request watermill router bridges the event sinks to the response
// writer; publishes block until the write handler acknowledges, so lines go
// out in event order.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, run func(ctx context.Context) error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	router, err := events.NewEventRouter()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	sink := events.NewWatermillSink(router.Publisher, streamTopic)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	var writeMu sync.Mutex
	writeLine := func(line []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := w.Write(append(line, '\n')); err != nil {
			log.Debug().Err(err).Msg("client went away during stream")
			return
		}
		flusher.Flush()
	}

	router.AddHandler("ndjson-writer", streamTopic, func(msg *message.Message) error {
		event, err := events.NewEventFromJSON(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Msg("dropping undecodable stream event")
			return nil
		}
		if line, ok := wireLine(event); ok {
			writeLine(line)
		}
		return nil
	})

	routerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		if err := router.Run(routerCtx); err != nil {
			log.Error().Err(err).Msg("stream event router failed")
		}
	}()
	<-router.Running()

	ctx := events.WithEventSinks(r.Context(), sink)
	runErr := run(ctx)
	if runErr != nil {
		line, _ := json.Marshal(wireEvent{Type: "error", Error: runErr.Error()})
		writeLine(line)
	}

	if err := router.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close stream router")
	}
	cancel()
	<-routerDone
}
