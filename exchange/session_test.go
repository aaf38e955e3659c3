package exchange

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"murmur/assistant"
	"murmur/audio"
	"murmur/conversation"
)

func tone(n int) []byte {
	pcm := make([]byte, n*2)
	for i := range n {
		v := 0.4 * math.Sin(2*math.Pi*440*float64(i)/16000)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return pcm
}

func newSession(t *testing.T, pcm []byte, svc assistant.Assistant) *Session {
	t.Helper()
	store := conversation.NewStore(nil)
	ctrl := audio.NewController(audio.NewFakeContextPCM(pcm, false), audio.ControllerConfig{})
	return NewSession(store, ctrl, NewCoordinator(store, svc, Options{}))
}

func TestSessionVoiceRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)
	fake := assistant.NewFake("hello there", "hi", nil)
	s := newSession(t, tone(8000), fake)

	require.NoError(t, s.Record(context.Background()))
	assert.Equal(t, audio.StateRecording, s.State().Capture)

	clip, err := s.Finish()
	require.NoError(t, err)
	require.NotNil(t, clip)

	id := s.State().ActiveID
	require.NoError(t, s.SendVoice(context.Background(), id, clip))

	st := s.State()
	assert.Equal(t, audio.StateIdle, st.Capture)
	assert.False(t, st.Busy)

	conv := s.Store.Active()
	assert.Equal(t, "hello there", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "hello there", conv.Messages[0].Text)
	s.Close()
}

func TestSessionEmptyRecordingDropped(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newSession(t, nil, assistant.NewFake("", "", nil))
	require.NoError(t, s.Record(context.Background()))
	clip, err := s.Finish()
	assert.NoError(t, err)
	assert.Nil(t, clip)
	assert.Empty(t, s.Store.Active().Messages)
	s.Close()
}

func TestSessionCloseStopsCapture(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newSession(t, tone(100), assistant.NewFake("", "", nil))
	require.NoError(t, s.Record(context.Background()))
	s.Close()
	assert.Equal(t, audio.StateIdle, s.State().Capture)
	assert.ErrorIs(t, s.Record(context.Background()), audio.ErrClosed)
}

func TestSessionTextAndEdit(t *testing.T) {
	s := newSession(t, nil, assistant.NewFake("", "ok", nil))
	require.NoError(t, s.SendText(context.Background(), "first"))
	require.NoError(t, s.Edit(context.Background(), 0, "second"))
	msgs := s.Store.Active().Messages
	assert.Equal(t, []conversation.Message{conversation.UserText("second"), conversation.AssistantText("ok")}, msgs)
}
