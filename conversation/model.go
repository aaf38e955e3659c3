package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	DefaultTitle     = "New Chat"
	VoiceTitle       = "Voice Chat"
	TextTitle        = "Chat"
	TitleLimit       = 28
	PlaceholderText  = "Recording..."
	TranscriptEmpty  = "Voice message"
	TranscriptFailed = "Voice message (failed to transcribe)"
	ErrorReply       = "Something went wrong. Please try again later."
)

// ID identifies a conversation. New ids are UUIDv7 strings; ids written as
// JSON numbers by older clients are kept as their decimal text and written
// back as numbers.
type ID string

func NewID() ID {
	return ID(uuid.Must(uuid.NewV7()).String())
}

func (id ID) numeric() bool {
	if id == "" || len(id) > 1 && id[0] == '0' {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("conversation id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusFinal   Status = "final"
	StatusFailed  Status = "failed"
)

type Message struct {
	Sender   Sender `json:"sender"`
	Kind     Kind   `json:"kind"`
	Text     string `json:"text"`
	AudioRef string `json:"audioRef,omitempty"`
	Status   Status `json:"status"`
}

func UserText(text string) Message {
	return Message{Sender: SenderUser, Kind: KindText, Text: text, Status: StatusFinal}
}

// UserAudio is the pending placeholder for a clip in flight.
func UserAudio(audioRef string) Message {
	return Message{Sender: SenderUser, Kind: KindAudio, Text: PlaceholderText, AudioRef: audioRef, Status: StatusPending}
}

func AssistantText(text string) Message {
	return Message{Sender: SenderAssistant, Kind: KindText, Text: text, Status: StatusFinal}
}

func AssistantError() Message {
	return Message{Sender: SenderAssistant, Kind: KindText, Text: ErrorReply, Status: StatusFailed}
}

// Role is the history role sent to the response service.
func (m Message) Role() string {
	if m.Sender == SenderUser {
		return "user"
	}
	return "assistant"
}

var ErrInvalidMessage = errors.New("invalid message")

func (m Message) Validate() error {
	bad := func(why string) error { return fmt.Errorf("%w: %s", ErrInvalidMessage, why) }
	switch m.Sender {
	case SenderUser, SenderAssistant:
	default:
		return bad("unknown sender " + string(m.Sender))
	}
	switch m.Kind {
	case KindText:
		if m.AudioRef != "" {
			return bad("text message with audio")
		}
		if m.Status == StatusPending {
			return bad("pending text message")
		}
	case KindAudio:
		if m.Sender != SenderUser {
			return bad("assistant audio message")
		}
	default:
		return bad("unknown kind " + string(m.Kind))
	}
	switch m.Status {
	case StatusPending, StatusFinal, StatusFailed:
	default:
		return bad("unknown status " + string(m.Status))
	}
	return nil
}

// UnmarshalJSON also accepts snapshots from the web client, which used
// sender "bot", a "type" field and no status. The result is not validated;
// callers loading a snapshot drop messages that fail Validate.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Sender   string `json:"sender"`
		Kind     string `json:"kind"`
		Type     string `json:"type"`
		Text     string `json:"text"`
		AudioRef string `json:"audioRef"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{
		Sender:   Sender(raw.Sender),
		Kind:     Kind(raw.Kind),
		Text:     raw.Text,
		AudioRef: raw.AudioRef,
		Status:   Status(raw.Status),
	}
	if m.Sender == "bot" {
		m.Sender = SenderAssistant
	}
	if m.Kind == "" {
		m.Kind = Kind(raw.Type)
	}
	if m.Kind == "" || m.Sender == SenderAssistant {
		m.Kind = KindText
	}
	if m.Kind == KindText {
		m.AudioRef = ""
	}
	if m.Status == "" {
		m.Status = StatusFinal
		if m.Sender == SenderAssistant && m.Text == ErrorReply {
			m.Status = StatusFailed
		}
	}
	return nil
}

type Conversation struct {
	ID          ID        `json:"id"`
	Title       string    `json:"title"`
	TitleLocked bool      `json:"titleLocked,omitempty"`
	Messages    []Message `json:"messages"`
}

func (c Conversation) clone() Conversation {
	c.Messages = append(make([]Message, 0, len(c.Messages)), c.Messages...)
	return c
}

func (c *Conversation) pending() int {
	if n := len(c.Messages); n > 0 && c.Messages[n-1].Status == StatusPending {
		return n - 1
	}
	return -1
}

// FinalMessages keeps the messages that count as conversation context.
func FinalMessages(msgs []Message) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Status == StatusFinal && m.Text != "" {
			out = append(out, m)
		}
	}
	return out
}

// DeriveTitle clips trimmed text to TitleLimit runes, using fallback when
// nothing is left.
func DeriveTitle(text, fallback string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback
	}
	if utf8.RuneCountInString(text) <= TitleLimit {
		return text
	}
	return string([]rune(text)[:TitleLimit])
}
