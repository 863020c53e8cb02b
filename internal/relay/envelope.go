package relay

import (
	"encoding/json"
	"fmt"

	"github.com/peerwatch/peerwatch/internal/model"
)

// Wire events carried on the producer channel. Producers send stats events
// daemon-ward; the daemon sends config events producer-ward.
const (
	EventStats  = "peer-connection-stats"
	EventConfig = "config"
)

// Two historical envelope shapes are accepted side by side: the `event`-keyed
// form with a nested data object, and the older `type`-keyed form with inline
// fields. Both normalize to one canonical model.Sample here at the boundary;
// nothing past this point sees the wire shape.
type wireEnvelope struct {
	Event string          `json:"event"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`

	// Inline payload fields used by the type-keyed shape.
	wirePayload
}

type wirePayload struct {
	URL    string            `json:"url"`
	ID     string            `json:"id"`
	State  string            `json:"state"`
	Values []json.RawMessage `json:"values"`
}

// DecodeSample parses one wire line. The second result is false for known
// non-stats events (which are ignored, not errors).
func DecodeSample(line []byte) (model.Sample, bool, error) {
	var env wireEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return model.Sample{}, false, fmt.Errorf("decoding envelope: %w", err)
	}

	payload := env.wirePayload
	switch {
	case env.Event == EventStats:
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				return model.Sample{}, false, fmt.Errorf("decoding stats payload: %w", err)
			}
		}
	case env.Event != "":
		return model.Sample{}, false, nil
	case env.Type == EventStats:
		// Inline fields already populated.
	default:
		return model.Sample{}, false, nil
	}

	if payload.ID == "" {
		return model.Sample{}, false, fmt.Errorf("stats event missing connection id")
	}

	sample := model.Sample{
		ID:      payload.ID,
		PageURL: payload.URL,
		State:   model.ConnectionState(payload.State),
	}
	for _, raw := range payload.Values {
		entry, err := decodeStatsEntry(raw)
		if err != nil {
			// One malformed entry does not poison the sample.
			continue
		}
		sample.Values = append(sample.Values, entry)
	}
	return sample, true, nil
}

func decodeStatsEntry(raw json.RawMessage) (model.StatsEntry, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return model.StatsEntry{}, err
	}
	entry := model.StatsEntry{Fields: fields}
	if t, ok := fields["type"].(string); ok {
		entry.Type = t
		delete(fields, "type")
	}
	return entry, nil
}

// EncodeConfig renders a config push as one wire line (without trailing
// newline).
func EncodeConfig(cfg model.ConfigPush) ([]byte, error) {
	return json.Marshal(struct {
		Event string           `json:"event"`
		Data  model.ConfigPush `json:"data"`
	}{Event: EventConfig, Data: cfg})
}
