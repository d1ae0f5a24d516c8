package chat

import "time"

// Client → server.
type ClientMessage struct {
	Type string `json:"type"`
	To   string `json:"to,omitempty"`
	Text string `json:"text,omitempty"`
}

// Server → client.
type Event struct {
	Type    string    `json:"type"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Text    string    `json:"text,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	Online  *bool     `json:"online,omitempty"`
	At      time.Time `json:"at"`
}

const (
	EventMessage = "message"
	EventPong    = "pong"
	EventError   = "error"
	EventReady   = "ready"
)

// MaxTextLength caps a single chat message.
const MaxTextLength = 2000

func newMessageEvent(from, to, text string, at time.Time) Event {
	return Event{Type: EventMessage, From: from, To: to, Text: text, At: at}
}

func newErrorEvent(code, message string, at time.Time) Event {
	return Event{Type: EventError, Code: code, Message: message, At: at}
}
