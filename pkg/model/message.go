package model

import (
	"encoding/json"
	"time"
)

type FrameType string

const (
	FrameChat  FrameType = "chat"
	FrameUsers FrameType = "users"
	FrameJoin  FrameType = "join"
	FrameLeave FrameType = "leave"
)

// Message is a chat message as served by the history API and pushed on the
// live channel. ID is assigned by the server and increases monotonically.
type Message struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// Time returns the creation time of the message.
func (m Message) Time() time.Time {
	return time.Unix(m.CreatedAt, 0)
}

// Frame is the envelope of every frame the gateway sends to clients.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewFrame marshals payload into a frame of the given type.
func NewFrame(t FrameType, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: t, Payload: raw}, nil
}

// Member is the payload of join and leave frames.
type Member struct {
	Username string `json:"username"`
}
