package conversation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDJSON(t *testing.T) {
	tests := []struct {
		in   string
		id   ID
		back string
	}{
		{`1`, "1", `1`},
		{`1718000000000`, "1718000000000", `1718000000000`},
		{`"0195f3a2-7c1e-7000-8000-000000000000"`, "0195f3a2-7c1e-7000-8000-000000000000", `"0195f3a2-7c1e-7000-8000-000000000000"`},
		{`"007"`, "007", `"007"`},
	}
	for _, tt := range tests {
		var id ID
		require.NoError(t, json.Unmarshal([]byte(tt.in), &id), tt.in)
		assert.Equal(t, tt.id, id)
		out, err := json.Marshal(id)
		require.NoError(t, err)
		assert.Equal(t, tt.back, string(out))
	}

	var id ID
	assert.Error(t, json.Unmarshal([]byte(`{}`), &id))
}

func TestNewIDOrdered(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	assert.Less(t, string(a), string(b))
}

func TestMessageLegacyShapes(t *testing.T) {
	in := `[
		{"sender":"user","text":"hi","type":"text"},
		{"sender":"bot","text":"hello","type":"text"},
		{"sender":"user","text":"Voice message","type":"audio","audioUrl":"blob:x"},
		{"sender":"bot","text":"Something went wrong. Please try again later."}
	]`
	var msgs []Message
	require.NoError(t, json.Unmarshal([]byte(in), &msgs))
	want := []Message{
		UserText("hi"),
		AssistantText("hello"),
		{Sender: SenderUser, Kind: KindAudio, Text: "Voice message", Status: StatusFinal},
		AssistantError(),
	}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("legacy messages mismatch (-want +got):\n%s", diff)
	}
}

func TestMessageValidate(t *testing.T) {
	valid := []Message{UserText("a"), UserAudio("clip.wav"), AssistantText("b"), AssistantError()}
	for _, m := range valid {
		assert.NoError(t, m.Validate(), "%+v", m)
	}
	invalid := []Message{
		{Sender: "bot", Kind: KindText, Status: StatusFinal},
		{Sender: SenderAssistant, Kind: KindAudio, Status: StatusFinal},
		{Sender: SenderUser, Kind: KindText, AudioRef: "x", Status: StatusFinal},
		{Sender: SenderUser, Kind: KindText, Status: StatusPending},
		{Sender: SenderUser, Kind: KindText, Status: "done"},
	}
	for _, m := range invalid {
		assert.ErrorIs(t, m.Validate(), ErrInvalidMessage, "%+v", m)
	}

	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"sender":"system","text":"x"}`), &m))
	assert.ErrorIs(t, m.Validate(), ErrInvalidMessage)
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "Explain quantum computing in",
		DeriveTitle("Explain quantum computing in simple terms for a ten year old", TextTitle))
	assert.Equal(t, "short", DeriveTitle("  short  ", TextTitle))
	assert.Equal(t, VoiceTitle, DeriveTitle("   ", VoiceTitle))
	assert.Equal(t, strings.Repeat("é", 28), DeriveTitle(strings.Repeat("é", 30), TextTitle))
}

func TestFinalMessages(t *testing.T) {
	failed := UserAudio("x")
	failed.Status = StatusFailed
	msgs := []Message{UserText("a"), AssistantText("b"), failed, AssistantError(), UserAudio("y")}
	assert.Equal(t, []Message{UserText("a"), AssistantText("b")}, FinalMessages(msgs))
}
