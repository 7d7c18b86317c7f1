package relay

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/devicelocator/locator-relay/internal/config"
	apperrors "github.com/devicelocator/locator-relay/internal/errors"
	"github.com/devicelocator/locator-relay/internal/model"
)

const (
	fieldCount      = 3
	deviceIDSegment = 2
)

// Transformer turns locator webhook responses into coordinate messages.
type Transformer struct {
	prefix string
}

func NewTransformer(eventName string) *Transformer {
	return &Transformer{prefix: config.HookResponsePrefix + eventName}
}

func (t *Transformer) Prefix() string {
	return t.prefix
}

// Accepts reports whether the event belongs to the configured locator hook.
func (t *Transformer) Accepts(event model.TelemetryEvent) bool {
	return strings.HasPrefix(event.Name, t.prefix)
}

// Transform returns nil without error for events outside the hook prefix and
// a MALFORMED_TELEMETRY error for accepted events whose payload cannot be
// parsed. Data is expected as "<lat>,<lng>,<accuracy>".
func (t *Transformer) Transform(event model.TelemetryEvent) (*model.CoordinateMessage, error) {
	if !t.Accepts(event) {
		return nil, nil
	}

	fields := strings.Split(event.Data, ",")
	if len(fields) != fieldCount {
		return nil, apperrors.MalformedTelemetry(fmt.Sprintf("expected %d fields, got %d", fieldCount, len(fields)))
	}

	lat, err := parseCoordinate(fields[0], "latitude")
	if err != nil {
		return nil, err
	}
	lng, err := parseCoordinate(fields[1], "longitude")
	if err != nil {
		return nil, err
	}
	acc, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 32)
	if err != nil {
		return nil, apperrors.MalformedTelemetry("accuracy is not an integer").WithCause(err)
	}

	deviceID, ok := deviceIDFromName(event.Name)
	if !ok {
		return nil, apperrors.MalformedTelemetry("event name carries no device id")
	}

	return &model.CoordinateMessage{
		ID:  deviceID,
		Pub: event.PublishedAt,
		Pos: model.Position{Lat: lat, Lng: lng},
		Acc: int32(acc),
	}, nil
}

// parseCoordinate accepts finite numbers only; NaN and Inf cannot be sent
// as JSON.
func parseCoordinate(field, name string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0, apperrors.MalformedTelemetry(name + " is not a number").WithCause(err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, apperrors.MalformedTelemetry(name + " is not finite")
	}
	return v, nil
}

// hook-response/<event>/<deviceID>/<chunk>
func deviceIDFromName(name string) (string, bool) {
	segments := strings.Split(name, "/")
	if len(segments) <= deviceIDSegment || segments[deviceIDSegment] == "" {
		return "", false
	}
	return segments[deviceIDSegment], true
}
