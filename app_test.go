package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/assistant"
	"murmur/audio"
	"murmur/beep"
	"murmur/config"
	"murmur/conversation"
	"murmur/encoder"
	"murmur/kv"
	"murmur/persist"
)

func TestMain(m *testing.M) {
	beep.Disable()
	os.Exit(m.Run())
}

func tone(n int) []byte {
	pcm := make([]byte, n*2)
	for i := range n {
		v := 0.4 * math.Sin(2*math.Pi*440*float64(i)/16000)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return pcm
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := config.Default()
	c.DataDir = t.TempDir()
	return &c
}

type testApp struct {
	*app
	fake *audio.FakeContext
	svc  *assistant.Fake
}

func openTestApp(t *testing.T, c *config.Config, ephemeral bool) testApp {
	t.Helper()
	fake := audio.NewFakeContextPCM(tone(8000), false)
	svc := assistant.NewFake("what is the weather", "sunny today", nil)
	a, err := openApp(context.Background(), appOptions{
		cfg:       c,
		ephemeral: ephemeral,
		audio:     fake,
		assistant: svc,
	})
	require.NoError(t, err)
	return testApp{app: a, fake: fake, svc: svc}
}

func TestOpenAppEphemeral(t *testing.T) {
	a := openTestApp(t, testConfig(t), true)
	assert.Equal(t, 1, a.store.Stats().Conversations)
	assert.NoError(t, a.loadErr)
	assert.Nil(t, a.device)

	dir := a.clips.Dir()
	assert.DirExists(t, dir)
	a.Close()
	assert.NoDirExists(t, dir)
}

func TestOpenAppPersistsAcrossRestarts(t *testing.T) {
	c := testConfig(t)
	a := openTestApp(t, c, false)
	id := a.store.ActiveID()
	require.NoError(t, a.session.SendText(context.Background(), "hello"))
	a.Close()

	b := openTestApp(t, c, false)
	defer b.Close()
	conv, ok := b.store.Get(id)
	require.True(t, ok)
	assert.Equal(t, "hello", conv.Title)
	assert.Equal(t, []conversation.Message{
		conversation.UserText("hello"),
		conversation.AssistantText("sunny today"),
	}, conv.Messages)
}

func TestOpenAppKeepsVoiceClips(t *testing.T) {
	c := testConfig(t)
	a := openTestApp(t, c, false)
	defer a.Close()

	require.NoError(t, a.session.Record(context.Background()))
	<-a.fake.Last().AudioDone()
	clip, err := a.session.Finish()
	require.NoError(t, err)
	require.NotNil(t, clip)
	require.NoError(t, a.session.SendVoice(context.Background(), a.store.ActiveID(), clip))

	msgs := a.store.Active().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.KindAudio, msgs[0].Kind)
	assert.Equal(t, "what is the weather", msgs[0].Text)
	require.NotEmpty(t, msgs[0].AudioRef)
	assert.FileExists(t, filepath.Join(c.DataDir, "clips", msgs[0].AudioRef))
}

func TestCorruptSnapshotKeepsClips(t *testing.T) {
	c := testConfig(t)
	a := openTestApp(t, c, false)
	require.NoError(t, a.session.Record(context.Background()))
	<-a.fake.Last().AudioDone()
	clip, err := a.session.Finish()
	require.NoError(t, err)
	require.NoError(t, a.session.SendVoice(context.Background(), a.store.ActiveID(), clip))
	ref := a.store.Active().Messages[0].AudioRef
	require.NotEmpty(t, ref)
	a.Close()

	db, err := kv.OpenBadger(kv.BadgerOptions{Dir: filepath.Join(c.DataDir, "db")})
	require.NoError(t, err)
	raw, err := db.Get(context.Background(), kv.Key{"murmur", "conversations"})
	require.NoError(t, err)
	require.NoError(t, db.Set(context.Background(), kv.Key{"murmur", "conversations"}, append([]byte("{"), raw...)))
	require.NoError(t, db.Close())

	path := filepath.Join(c.DataDir, "clips", ref)
	b := openTestApp(t, c, false)
	assert.ErrorIs(t, b.loadErr, persist.ErrCorrupt)
	assert.FileExists(t, path)
	b.Close()

	again := openTestApp(t, c, false)
	defer again.Close()
	assert.NoError(t, again.loadErr)
	assert.FileExists(t, path)
}

func TestDeviceLineText(t *testing.T) {
	assert.Equal(t, "mic: system default", deviceLineText(nil))
	assert.Equal(t, "mic: Desk USB", deviceLineText(&audio.DeviceInfo{Name: "Desk USB"}))
	assert.Equal(t, "mic: AirPods Pro (BT!)", deviceLineText(&audio.DeviceInfo{Name: "AirPods Pro"}))
}

func TestClipFromWAV(t *testing.T) {
	pcm := tone(16000)
	path := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, os.WriteFile(path, append(encoder.WAVHeader(len(pcm)), pcm...), 0o644))

	clip, err := clipFromWAV(context.Background(), path, "flac")
	require.NoError(t, err)
	assert.Equal(t, "flac", clip.Format())
	assert.InDelta(t, 1.0, clip.Duration().Seconds(), 0.1)
}

func TestResolveConversation(t *testing.T) {
	store := conversation.NewStore(nil)
	first := store.ActiveID()
	second := store.Create().ID

	id, err := resolveConversation(store, "")
	require.NoError(t, err)
	assert.Equal(t, second, id)

	id, err = resolveConversation(store, string(first))
	require.NoError(t, err)
	assert.Equal(t, first, id)

	list := store.List()
	id, err = resolveConversation(store, "2")
	require.NoError(t, err)
	assert.Equal(t, list[1].ID, id)

	_, err = resolveConversation(store, "3")
	assert.ErrorIs(t, err, conversation.ErrNotFound)
	_, err = resolveConversation(store, "nope")
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		msg  conversation.Message
		want string
	}{
		{conversation.UserText("hi"), "you: hi"},
		{conversation.AssistantText("hello"), "assistant: hello"},
		{conversation.AssistantError(), "assistant: " + conversation.ErrorReply + " (failed)"},
		{conversation.UserAudio("a.wav"), "you [voice]: " + conversation.PlaceholderText + " (pending)"},
	}
	for _, tt := range tests {
		if got := formatMessage(tt.msg); got != tt.want {
			t.Errorf("formatMessage(%+v) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}

func TestWriteList(t *testing.T) {
	store := conversation.NewStore(nil)
	active := store.Create()
	require.NoError(t, store.Rename(active.ID, "Groceries"))

	var buf bytes.Buffer
	require.NoError(t, writeList(&buf, store))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var marked string
	for _, l := range lines {
		if strings.HasPrefix(l, "*") {
			marked = l
		}
	}
	assert.Contains(t, marked, "Groceries")
	assert.Contains(t, marked, string(active.ID))
	assert.Contains(t, marked, "0 messages")
}

func TestReplayer(t *testing.T) {
	a := openTestApp(t, testConfig(t), true)
	defer a.Close()

	var out bytes.Buffer
	r := &replayer{app: a.app, fake: a.fake, out: &out}
	script := strings.Join([]string{
		"# typed then spoken",
		"SAY hello",
		"WAIT",
		"RECORD",
		"WAIT_AUDIO_DONE",
		"STOP",
		"WAIT",
		"DUMP",
		"EDIT 1 goodbye",
		"WAIT",
		"DUMP",
		"BOGUS",
		"QUIT",
		"DUMP",
	}, "\n")
	require.NoError(t, r.run(context.Background(), strings.NewReader(script)))

	want := strings.Join([]string{
		"CONVERSATION hello",
		"you: hello",
		"assistant: sunny today",
		"you [voice]: what is the weather",
		"assistant: sunny today",
		"CONVERSATION hello",
		"you: goodbye",
		"assistant: sunny today",
		`ERROR BOGUS: unknown command "BOGUS"`,
	}, "\n") + "\n"
	assert.Equal(t, want, out.String())
}
