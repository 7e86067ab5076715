package envelope

import "fmt"

// SystemSender is the sender name used for messages produced by the relay itself.
const SystemSender = "System"

// WelcomeText is sent to every client right after it connects.
const WelcomeText = "Welcome to chat!"

// ChatPayload is the JSON object embedded as a string in the data field of
// relay-originated message envelopes.
type ChatPayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// NewChatMessage renders a chat payload from the given sender and wraps it in
// a message envelope.
func NewChatMessage(from, text string) (Envelope, error) {
	raw, err := marshal(ChatPayload{From: from, Message: text})
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: render chat payload: %w", err)
	}
	return NewMessage(string(raw)), nil
}

// Welcome returns the greeting sent to a freshly connected client.
func Welcome() Envelope {
	e, err := NewChatMessage(SystemSender, WelcomeText)
	if err != nil {
		// Two plain strings always marshal.
		panic(err)
	}
	return e
}
