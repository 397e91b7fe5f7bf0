package models

import (
	"encoding/json"
	"time"
)

// Snapshot is the last-known outcome of the upstream fetch. Nil fields serialize as null.
type Snapshot struct {
	Result    json.RawMessage `json:"result"`
	Timestamp *time.Time      `json:"timestamp"`
	Error     *string         `json:"error"`
}

// MarshalJSON keeps all three keys present and formats the timestamp in UTC.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var ts *string
	if s.Timestamp != nil {
		v := s.Timestamp.UTC().Format(time.RFC3339Nano)
		ts = &v
	}
	result := s.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return json.Marshal(struct {
		Result    json.RawMessage `json:"result"`
		Timestamp *string         `json:"timestamp"`
		Error     *string         `json:"error"`
	}{result, ts, s.Error})
}
