package hub

import (
	"encoding/json"
	"fmt"
)

// Validate checks that every field holds a string, boolean or number
func (d Data) Validate() error {
	for k, v := range d {
		switch v.(type) {
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64, json.Number:
		default:
			return fmt.Errorf("field %q has unsupported type %T", k, v)
		}
	}
	return nil
}

// Copy returns a shallow copy of d, with room for extra fields
func (d Data) Copy() Data {
	c := make(Data, len(d)+1)
	for k, v := range d {
		c[k] = v
	}
	return c
}

// Marshal validates the message data and encodes the envelope as JSON
func (m Message) Marshal() ([]byte, error) {
	if err := m.Data.Validate(); err != nil {
		return nil, fmt.Errorf("topic %s: %w", m.Topic, err)
	}
	if m.Data == nil {
		m.Data = Data{}
	}
	return json.Marshal(m)
}
