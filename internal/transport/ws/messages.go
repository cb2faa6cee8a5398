package ws

import "encoding/json"

// clientEnvelope is the frame every client message travels in.
type clientEnvelope struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// serverEnvelope is the frame every server message travels in. Payload stays
// raw until the type is known.
type serverEnvelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type helloPayload struct {
	Name  string `json:"name"`
	Grant string `json:"grant,omitempty"`
}

type joinPayload struct {
	Code  string `json:"code"`
	Grant string `json:"grant,omitempty"`
}

type movePayload struct {
	Direction string `json:"direction"`
	HoldMs    int64  `json:"holdMs"`
}

type roomQueryPayload struct {
	Code string `json:"code"`
}

// wireSession mirrors one participant session on the wire.
type wireSession struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Color     string  `json:"color,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Room      string  `json:"room,omitempty"`
	Connected bool    `json:"connected"`
	Creator   bool    `json:"creator,omitempty"`
}

// ackPayload is the server's reply to a correlated request.
type ackPayload struct {
	OK      bool         `json:"ok"`
	Code    string       `json:"code,omitempty"` // room join code on create_room
	Error   *wireError   `json:"error,omitempty"`
	Session *wireSession `json:"session,omitempty"`
	Room    *roomState   `json:"room,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// roomState is the replicated room view the server streams and answers
// room_query requests with.
type roomState struct {
	Code    string        `json:"code"`
	Exists  bool          `json:"exists"`
	Members []wireSession `json:"members"`
}
