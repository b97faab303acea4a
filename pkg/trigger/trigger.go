// Package trigger decodes the scheduler messages that start an archive run.
package trigger

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Channel identifies which archive run a trigger starts.
type Channel string

const (
	Realtime Channel = "realtime"
	Static   Channel = "static"
)

// Trigger is one scheduled delivery.
type Trigger struct {
	Channel Channel
	Time    time.Time // Zero when the delivery carried no timestamp.
}

type payload struct {
	Time *time.Time `json:"time,omitempty"`
}

// Parse decodes a trigger message value of the form {"time": "<RFC3339>"}.
// An empty value, or one without a time, falls back to delivered.
func Parse(channel Channel, value []byte, delivered time.Time) (Trigger, error) {
	t := Trigger{Channel: channel, Time: delivered}

	if len(bytes.TrimSpace(value)) == 0 {
		return t, nil
	}

	var p payload
	if err := json.Unmarshal(value, &p); err != nil {
		return Trigger{}, errors.Wrap(err, "failed to unmarshal trigger")
	}
	if p.Time != nil {
		t.Time = *p.Time
	}

	return t, nil
}

// Encode renders t as a message value that Parse reads back.
func Encode(t Trigger) ([]byte, error) {
	p := payload{}
	if !t.Time.IsZero() {
		tt := t.Time.UTC()
		p.Time = &tt
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal trigger")
	}
	return b, nil
}
