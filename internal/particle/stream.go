package particle

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/devicelocator/locator-relay/internal/model"
)

// EventStream emits telemetry in arrival order until the upstream ends or
// Close is called. Err reports why the stream ended once Events is closed.
type EventStream interface {
	Events() <-chan model.TelemetryEvent
	Err() error
	Close() error
}

const maxLineSize = 1 << 20

type stream struct {
	body   io.ReadCloser
	events chan model.TelemetryEvent
	done   chan struct{}

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func newStream(body io.ReadCloser) *stream {
	s := &stream{
		body:   body,
		events: make(chan model.TelemetryEvent),
		done:   make(chan struct{}),
	}
	go s.read()
	return s
}

func (s *stream) Events() <-chan model.TelemetryEvent {
	return s.events
}

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.body.Close()
	})
	return err
}

func (s *stream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// read parses server-sent events: "event:" names the record, "data:" lines
// carry its JSON payload, a blank line dispatches it.
func (s *stream) read() {
	defer close(s.events)

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	var name string
	var data []string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if name != "" {
				if !s.dispatch(name, strings.Join(data, "\n")) {
					return
				}
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
			// comment or keep-alive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil && !s.closed() {
		s.setErr(err)
		return
	}
	if !s.closed() {
		s.setErr(io.EOF)
	}
}

func (s *stream) dispatch(name, payload string) bool {
	if !gjson.Valid(payload) {
		log.Warn().Str("event", name).Msg("event stream payload is not JSON, skipping")
		return true
	}

	fields := gjson.GetMany(payload, "data", "published_at", "coreid")
	event := model.TelemetryEvent{
		Name:        name,
		Data:        fields[0].String(),
		PublishedAt: fields[1].String(),
		CoreID:      fields[2].String(),
	}

	select {
	case s.events <- event:
		return true
	case <-s.done:
		return false
	}
}

func (s *stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Ended reports whether err describes an orderly end of stream.
func Ended(err error) bool {
	return err == nil || errors.Is(err, io.EOF)
}
