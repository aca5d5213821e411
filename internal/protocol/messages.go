// Package protocol defines the wire frames exchanged with consultation
// clients over the websocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies inbound payload variants.
type MessageType string

const (
	TypeText   MessageType = "text"
	TypeAudio  MessageType = "audio"
	TypeSpeech MessageType = "speech"
)

// ResponseType identifies outbound payload variants.
type ResponseType string

const (
	TypeResponse ResponseType = "response"
	TypeWelcome  ResponseType = "welcome"
	TypeError    ResponseType = "error"
	TypeWarning  ResponseType = "warning"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrEmptyContent    = errors.New("empty message content")
)

// MessageMeta carries the streaming markers for chunked audio uploads.
type MessageMeta struct {
	StreamingStart bool `json:"streaming_start,omitempty"`
	StreamingEnd   bool `json:"streaming_end,omitempty"`
}

// Message is one inbound unit: a full text message or one audio chunk.
// Audio content is base64 encoded.
type Message struct {
	Type     MessageType `json:"type"`
	Content  string      `json:"content"`
	Language string      `json:"language,omitempty"`
	Metadata MessageMeta `json:"metadata,omitempty"`
}

// IsAudio reports whether the message carries audio content. Legacy clients
// send "speech" for the same payload shape as "audio".
func (m Message) IsAudio() bool {
	return m.Type == TypeAudio || m.Type == TypeSpeech
}

// rawMessage tolerates the two shapes clients send for the language field:
// a plain code string or an object {"source": "...", "autoDetect": true}.
type rawMessage struct {
	Type     MessageType     `json:"type"`
	Content  string          `json:"content"`
	Language json.RawMessage `json:"language,omitempty"`
	Metadata MessageMeta     `json:"metadata,omitempty"`
}

type languageObject struct {
	Source     string `json:"source"`
	AutoDetect bool   `json:"autoDetect"`
}

// Parse validates an inbound frame and normalizes the language field to a
// plain code.
func Parse(raw []byte) (Message, error) {
	var rm rawMessage
	if err := json.Unmarshal(raw, &rm); err != nil {
		return Message{}, fmt.Errorf("invalid frame: %w", err)
	}

	switch rm.Type {
	case TypeText, TypeAudio, TypeSpeech:
	default:
		return Message{}, ErrUnsupportedType
	}
	if strings.TrimSpace(rm.Content) == "" {
		return Message{}, ErrEmptyContent
	}

	msg := Message{
		Type:     rm.Type,
		Content:  rm.Content,
		Metadata: rm.Metadata,
	}
	if len(rm.Language) > 0 {
		var code string
		if err := json.Unmarshal(rm.Language, &code); err == nil {
			msg.Language = code
		} else {
			var obj languageObject
			if err := json.Unmarshal(rm.Language, &obj); err != nil {
				return Message{}, fmt.Errorf("invalid language field: %w", err)
			}
			msg.Language = obj.Source
		}
	}
	return msg, nil
}

// Language names the response language for the client UI.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ResponseMeta is the flat metadata record attached to outbound frames.
type ResponseMeta struct {
	ExchangeID string  `json:"exchange_id,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Translated bool    `json:"translated"`
	Path       string  `json:"path,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

// Response is one outbound frame. Audio is base64 encoded when present.
type Response struct {
	Type            ResponseType `json:"type"`
	Content         string       `json:"content"`
	OriginalContent string       `json:"original_content,omitempty"`
	Language        Language     `json:"language"`
	Audio           string       `json:"audio,omitempty"`
	Metadata        ResponseMeta `json:"metadata"`
}
