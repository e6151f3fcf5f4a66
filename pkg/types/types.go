package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// Label is one key="value" pair from an exposition line.
type Label struct {
	Name  string
	Value string
}

// Labels is an ordered label set. Order is the order of first appearance in
// the source line; setting an existing name replaces its value in place.
type Labels []Label

// Set adds name=value, or overwrites the value if name is already present.
func (ls *Labels) Set(name, value string) {
	for i := range *ls {
		if (*ls)[i].Name == name {
			(*ls)[i].Value = value
			return
		}
	}
	*ls = append(*ls, Label{Name: name, Value: value})
}

// Get returns the value for name and whether it was present.
func (ls Labels) Get(name string) (string, bool) {
	for _, l := range ls {
		if l.Name == name {
			return l.Value, true
		}
	}
	return "", false
}

// Map returns the labels as an unordered map.
func (ls Labels) Map() map[string]string {
	m := make(map[string]string, len(ls))
	for _, l := range ls {
		m[l.Name] = l.Value
	}
	return m
}

// MarshalJSON encodes the labels as a JSON object, keys in label order.
// A nil or empty set encodes as {}.
func (ls Labels) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, l := range ls {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(l.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(l.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Observation is one parsed exposition sample. Treat it as immutable.
type Observation struct {
	Metric     string
	Labels     Labels
	Value      float64
	CapturedAt time.Time
}

// Batch is the ordered set of observations destined for one table during a
// single cycle. Batches are never modified after the orchestrator builds them.
type Batch struct {
	Table        string
	Observations []Observation
}

// Len returns the number of observations in the batch.
func (b Batch) Len() int { return len(b.Observations) }
