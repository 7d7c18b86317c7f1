package model

// TelemetryEvent is one record received from the upstream event stream.
// PublishedAt is passed through untouched as the upstream formats it.
type TelemetryEvent struct {
	Name        string `json:"name"`
	Data        string `json:"data"`
	PublishedAt string `json:"published_at"`
	CoreID      string `json:"coreid,omitempty"`
}

type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CoordinateMessage is the payload pushed to the browser.
type CoordinateMessage struct {
	ID  string   `json:"id"`
	Pub string   `json:"pub"`
	Pos Position `json:"pos"`
	Acc int32    `json:"acc"`
}
