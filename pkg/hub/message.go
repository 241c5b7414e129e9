// Package hub fans JSON messages out to websocket clients. One goroutine
// owns the client set; clients that fall behind are dropped.
package hub

import "encoding/json"

// Message is one encoded broadcast.
type Message struct {
	Data []byte
}

// NewJSONMessage encodes v.
func NewJSONMessage(v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Data: data}, nil
}
