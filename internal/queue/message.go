package queue

import (
	"encoding/json"
	"errors"
	"strings"
)

// MessageVersion is the payload version written by this build.
const MessageVersion = 1

var ErrInvalidMessage = errors.New("invalid queue message")

// Message asks a worker to process one paid analysis.
type Message struct {
	AnalysisID string `json:"analysisId"`
	RequestID  string `json:"requestId"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message and rejects payloads
// without an analysis id or from a newer producer.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, errors.Join(ErrInvalidMessage, err)
	}
	msg.AnalysisID = strings.TrimSpace(msg.AnalysisID)
	if msg.AnalysisID == "" {
		return Message{}, errors.Join(ErrInvalidMessage, errors.New("analysisId is required"))
	}
	if msg.Version > MessageVersion {
		return Message{}, errors.Join(ErrInvalidMessage, errors.New("unsupported message version"))
	}
	return msg, nil
}
