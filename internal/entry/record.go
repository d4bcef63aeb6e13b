package entry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// AnonymousName is the display name used when a record carries none.
const AnonymousName = "Anonymous"

// Record is one raw score submission as persisted by a store.
//
// Field names are fixed for compatibility with existing data. Timestamp,
// Score and Prize are kept as raw JSON so a store can round-trip whatever
// representation the writer chose. Records are never edited in place;
// corrections are new records.
type Record struct {
	ID        string          `json:"id,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Name      *string         `json:"name,omitempty"`
	Score     json.RawMessage `json:"score,omitempty"`
	Prize     json.RawMessage `json:"prize,omitempty"`
}

// ErrNotObject is returned when a payload is valid JSON but not an object.
var ErrNotObject = errors.New("record is not a JSON object")

// wireRecord mirrors Record with id and name left raw, so foreign writers
// cannot make a row undecodable by choosing the wrong type.
type wireRecord struct {
	ID        json.RawMessage `json:"id"`
	Timestamp json.RawMessage `json:"timestamp"`
	Name      json.RawMessage `json:"name"`
	Score     json.RawMessage `json:"score"`
	Prize     json.RawMessage `json:"prize"`
}

// UnmarshalJSON decodes a record leniently. A numeric id or name becomes its
// literal text; any other non-string id or name is treated as absent.
func (r *Record) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrNotObject
	}
	var w wireRecord
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return err
	}

	out := Record{
		Timestamp: w.Timestamp,
		Score:     w.Score,
		Prize:     w.Prize,
	}
	if id, ok := textOf(w.ID); ok {
		out.ID = id
	}
	if name, ok := textOf(w.Name); ok {
		out.Name = &name
	}
	*r = out
	return nil
}

// textOf returns the text of a JSON string or number literal.
func textOf(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false
		}
		return strings.TrimSpace(n.String()), true
	default:
		return "", false
	}
}

// Entry is a Record with defaults filled in.
type Entry struct {
	ID        string
	Name      string
	Score     float64
	Timestamp json.RawMessage
	Prize     json.RawMessage
}

// Parse applies defaults to a raw record. It never fails.
func Parse(r Record) Entry {
	return Entry{
		ID:        r.ID,
		Name:      DisplayName(r.Name),
		Score:     CoerceScore(r.Score),
		Timestamp: r.Timestamp,
		Prize:     r.Prize,
	}
}

// DisplayName returns the raw name, or AnonymousName when the name is
// absent or blank.
func DisplayName(name *string) string {
	if name == nil || isBlank(*name) {
		return AnonymousName
	}
	return *name
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := Record{
		ID:        r.ID,
		Timestamp: cloneRaw(r.Timestamp),
		Score:     cloneRaw(r.Score),
		Prize:     cloneRaw(r.Prize),
	}
	if r.Name != nil {
		n := *r.Name
		out.Name = &n
	}
	return out
}

// Marshal encodes the record in its wire shape.
func Marshal(r Record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal record %q: %w", r.ID, err)
	}
	return b, nil
}

// Unmarshal decodes a record from its wire shape. Only payloads that are not
// valid JSON, or not a JSON object, fail; stores skip such rows.
func Unmarshal(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return r, nil
}

// StringPtr is a convenience for building records with a name.
func StringPtr(s string) *string {
	return &s
}

// NumberScore encodes a numeric score as raw JSON.
func NumberScore(v float64) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Non-finite values have no JSON form.
		return json.RawMessage("0")
	}
	return b
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}
