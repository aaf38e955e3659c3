package conversation

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqIDs() func() ID {
	n := 0
	return func() ID {
		n++
		return ID(fmt.Sprintf("c%d", n))
	}
}

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return NewStore(nil, append([]Option{WithIDs(seqIDs())}, opts...)...)
}

func assertPendingInvariant(t *testing.T, c Conversation) {
	t.Helper()
	for i, m := range c.Messages {
		if m.Status == StatusPending && i != len(c.Messages)-1 {
			t.Fatalf("pending message at %d of %d", i, len(c.Messages))
		}
	}
}

func TestNewStoreFresh(t *testing.T) {
	s := newStore(t)
	c := s.Active()
	assert.Equal(t, ID("c1"), c.ID)
	assert.Equal(t, DefaultTitle, c.Title)
	assert.NotNil(t, c.Messages)
	assert.Empty(t, c.Messages)
}

func TestNewStoreRecoversPending(t *testing.T) {
	loaded := []Conversation{{ID: "1", Title: "A", Messages: []Message{UserText("hi"), UserAudio("clip")}}}
	s := NewStore(loaded)
	msgs, err := s.Messages("1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, StatusFailed, msgs[1].Status)
	assert.Equal(t, TranscriptFailed, msgs[1].Text)
	assert.Equal(t, StatusPending, loaded[0].Messages[1].Status, "input must not be mutated")
}

func TestCreatePrependsAndActivates(t *testing.T) {
	s := newStore(t)
	c := s.Create()
	assert.Equal(t, ID("c2"), c.ID)
	assert.Equal(t, c.ID, s.ActiveID())
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, ID("c2"), list[0].ID)
	assert.Equal(t, ID("c1"), list[1].ID)
}

func TestSelect(t *testing.T) {
	s := newStore(t)
	s.Create()
	assert.True(t, s.Select("c1"))
	assert.Equal(t, ID("c1"), s.ActiveID())
	assert.False(t, s.Select("nope"))
	assert.Equal(t, ID("c1"), s.ActiveID())
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	s.Create()
	s.Create() // c3 active, order c3 c2 c1

	require.NoError(t, s.Delete("c3"))
	assert.Equal(t, ID("c2"), s.ActiveID())

	require.NoError(t, s.Delete("c1"))
	assert.Equal(t, ID("c2"), s.ActiveID(), "deleting an inactive conversation keeps the selection")

	assert.ErrorIs(t, s.Delete("c1"), ErrNotFound)
}

func TestDeleteAllLeavesOneFresh(t *testing.T) {
	s := newStore(t)
	s.Create()
	_, err := s.AppendUserMessage("c2", "hello")
	require.NoError(t, err)
	require.NoError(t, s.Rename("c1", "kept"))

	for _, c := range s.List() {
		require.NoError(t, s.Delete(c.ID))
	}
	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, DefaultTitle, list[0].Title)
	assert.Empty(t, list[0].Messages)
	assert.Equal(t, list[0].ID, s.ActiveID())
}

func TestClearAll(t *testing.T) {
	var released []string
	s := newStore(t, WithReleaser(func(ref string) { released = append(released, ref) }))
	s.Create()
	_, err := s.AppendPlaceholder("c2", "a.wav")
	require.NoError(t, err)

	c := s.ClearAll()
	assert.Equal(t, []string{"a.wav"}, released)
	assert.Equal(t, []Conversation{c}, s.List())
	assert.Equal(t, DefaultTitle, c.Title)
	assert.False(t, s.Busy("c2"))
}

func TestRename(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Rename("c1", "  Trip plans  "))
	c, _ := s.Get("c1")
	assert.Equal(t, "Trip plans", c.Title)
	assert.True(t, c.TitleLocked)

	assert.ErrorIs(t, s.Rename("c1", "   "), ErrEmptyTitle)
	assert.ErrorIs(t, s.Rename("zz", "x"), ErrNotFound)
}

func TestTextExchangeDerivesTitle(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.BeginExchange("c1"))
	_, err := s.AppendUserMessage("c1", "Explain quantum computing in simple terms for a ten year old")
	require.NoError(t, err)
	require.NoError(t, s.CompleteExchange("c1", Result{Reply: "Sure"}))

	c, _ := s.Get("c1")
	assert.Equal(t, "Explain quantum computing in", c.Title)
	assert.Equal(t, []Message{
		UserText("Explain quantum computing in simple terms for a ten year old"),
		AssistantText("Sure"),
	}, c.Messages)
	assert.False(t, s.Busy("c1"))

	// later exchanges keep the derived title
	require.NoError(t, s.BeginExchange("c1"))
	_, err = s.AppendUserMessage("c1", "something else entirely")
	require.NoError(t, err)
	require.NoError(t, s.CompleteExchange("c1", Result{Reply: "ok"}))
	c, _ = s.Get("c1")
	assert.Equal(t, "Explain quantum computing in", c.Title)
}

func TestRenameBeatsDerivation(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Rename("c1", DefaultTitle))
	require.NoError(t, s.BeginExchange("c1"))
	_, err := s.AppendPlaceholder("c1", "r.wav")
	require.NoError(t, err)
	require.NoError(t, s.CompleteExchange("c1", Result{Transcript: "a transcript that is definitely long", Reply: "r"}))
	c, _ := s.Get("c1")
	assert.Equal(t, DefaultTitle, c.Title)
}

func TestVoiceExchange(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.BeginExchange("c1"))
	idx, err := s.AppendPlaceholder("c1", "r.wav")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	c, _ := s.Get("c1")
	assert.Equal(t, UserAudio("r.wav"), c.Messages[0])

	_, err = s.AppendPlaceholder("c1", "other.wav")
	assert.ErrorIs(t, err, ErrPendingExists)
	_, err = s.AppendUserMessage("c1", "typed")
	assert.ErrorIs(t, err, ErrPendingExists)

	require.NoError(t, s.CompleteExchange("c1", Result{Transcript: "What is the weather like on Mars today", Reply: "Cold"}))
	c, _ = s.Get("c1")
	assert.Equal(t, "What is the weather like on ", c.Title)
	assert.Equal(t, Message{Sender: SenderUser, Kind: KindAudio, Text: "What is the weather like on Mars today", AudioRef: "r.wav", Status: StatusFinal}, c.Messages[0])
	assert.Equal(t, AssistantText("Cold"), c.Messages[1])
}

func TestVoiceExchangeEmptyTranscript(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.BeginExchange("c1"))
	_, err := s.AppendPlaceholder("c1", "r.wav")
	require.NoError(t, err)
	require.NoError(t, s.CompleteExchange("c1", Result{Reply: "Hm?"}))
	c, _ := s.Get("c1")
	assert.Equal(t, TranscriptEmpty, c.Messages[0].Text)
	assert.Equal(t, DefaultTitle, c.Title)
}

func TestFailExchangeKeepsMessages(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.BeginExchange("c1"))
	_, err := s.AppendPlaceholder("c1", "r.wav")
	require.NoError(t, err)
	boom := errors.New("boom")
	require.NoError(t, s.FailExchange("c1", boom))

	c, _ := s.Get("c1")
	require.Len(t, c.Messages, 2)
	assert.Equal(t, StatusFailed, c.Messages[0].Status)
	assert.Equal(t, TranscriptFailed, c.Messages[0].Text)
	assert.Equal(t, "r.wav", c.Messages[0].AudioRef)
	assert.Equal(t, AssistantError(), c.Messages[1])
	assert.Equal(t, DefaultTitle, c.Title)
	assert.False(t, s.Busy("c1"))
	assert.ErrorIs(t, s.LastFailure("c1"), boom)

	require.NoError(t, s.BeginExchange("c1"))
	assert.NoError(t, s.LastFailure("c1"))
}

func TestBeginExchangeBusy(t *testing.T) {
	s := newStore(t)
	s.Create()
	require.NoError(t, s.BeginExchange("c1"))
	assert.ErrorIs(t, s.BeginExchange("c1"), ErrBusy)
	assert.NoError(t, s.BeginExchange("c2"), "other conversations are independent")
	assert.ErrorIs(t, s.BeginExchange("zz"), ErrNotFound)

	s.AbortExchange("c1")
	assert.False(t, s.Busy("c1"))
	assert.ErrorIs(t, s.CompleteExchange("c1", Result{}), ErrNotInExchange)
}

func TestCompleteAfterDelete(t *testing.T) {
	s := newStore(t)
	s.Create()
	require.NoError(t, s.BeginExchange("c1"))
	require.NoError(t, s.Delete("c1"))
	assert.ErrorIs(t, s.CompleteExchange("c1", Result{Reply: "late"}), ErrNotFound)
	assert.ErrorIs(t, s.FailExchange("c1", nil), ErrNotFound)
	assert.False(t, s.Busy("c1"))
}

func TestEditMessage(t *testing.T) {
	var released []string
	s := newStore(t, WithReleaser(func(ref string) { released = append(released, ref) }))
	for i := range 3 {
		require.NoError(t, s.BeginExchange("c1"))
		if i == 1 {
			_, err := s.AppendPlaceholder("c1", "v.wav")
			require.NoError(t, err)
			require.NoError(t, s.CompleteExchange("c1", Result{Transcript: "voice", Reply: "r1"}))
			continue
		}
		_, err := s.AppendUserMessage("c1", fmt.Sprintf("q%d", i))
		require.NoError(t, err)
		require.NoError(t, s.CompleteExchange("c1", Result{Reply: fmt.Sprintf("r%d", i)}))
	}

	assert.ErrorIs(t, s.EditMessage("c1", 1, "x"), ErrInvalidIndex, "assistant messages are not editable")
	assert.ErrorIs(t, s.EditMessage("c1", 6, "x"), ErrInvalidIndex)
	assert.ErrorIs(t, s.EditMessage("c1", -1, "x"), ErrInvalidIndex)
	assert.ErrorIs(t, s.EditMessage("c1", 0, " "), ErrEmptyMessage)

	require.NoError(t, s.EditMessage("c1", 2, "edited"))
	msgs, _ := s.Messages("c1")
	assert.Equal(t, []Message{UserText("q0"), AssistantText("r0"), UserText("edited")}, msgs)
	assert.Equal(t, []string{"v.wav"}, released)
}

func TestEditThenCompleteLength(t *testing.T) {
	for _, ok := range []bool{true, false} {
		for i := 0; i < 6; i += 2 {
			s := newStore(t)
			for n := range 3 {
				require.NoError(t, s.BeginExchange("c1"))
				_, err := s.AppendUserMessage("c1", fmt.Sprintf("q%d", n))
				require.NoError(t, err)
				require.NoError(t, s.CompleteExchange("c1", Result{Reply: "r"}))
			}
			require.NoError(t, s.BeginExchange("c1"))
			require.NoError(t, s.EditMessage("c1", i, "new text"))
			if ok {
				require.NoError(t, s.CompleteExchange("c1", Result{Reply: "again"}))
			} else {
				require.NoError(t, s.FailExchange("c1", nil))
			}
			msgs, _ := s.Messages("c1")
			assert.Equal(t, "new text", msgs[i].Text)
			assert.Len(t, msgs, i+2)
		}
	}
}

func TestPendingInvariantRandomized(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	s := newStore(t)
	s.Create()
	ids := []ID{"c1", "c2"}
	for range 2000 {
		id := ids[rng.IntN(len(ids))]
		switch rng.IntN(6) {
		case 0:
			s.BeginExchange(id)
		case 1:
			s.AppendPlaceholder(id, "x.wav")
		case 2:
			s.AppendUserMessage(id, "text")
		case 3:
			s.CompleteExchange(id, Result{Transcript: "t", Reply: "r"})
		case 4:
			s.FailExchange(id, nil)
		case 5:
			if msgs, _ := s.Messages(id); len(msgs) > 0 {
				s.EditMessage(id, rng.IntN(len(msgs)), "edit")
			}
		}
		for _, c := range s.List() {
			assertPendingInvariant(t, c)
		}
	}
}

func TestSubscribeVersions(t *testing.T) {
	s := newStore(t)
	var mu sync.Mutex
	var versions []uint64
	unsubscribe := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		versions = append(versions, snap.Version)
		mu.Unlock()
	})

	s.Create()
	s.Rename("c2", "x")
	s.Select("c1")
	s.Select("c1") // no change, no snapshot
	s.Rename("zz", "x")
	unsubscribe()
	s.Create()

	assert.Equal(t, []uint64{1, 2, 3}, versions)
	assert.Equal(t, uint64(4), s.Snapshot().Version)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := newStore(t)
	_, err := s.AppendUserMessage("c1", "hi")
	require.NoError(t, err)
	snap := s.Snapshot()
	snap.Conversations[0].Messages[0].Text = "mutated"
	msgs, _ := s.Messages("c1")
	assert.Equal(t, "hi", msgs[0].Text)
}

func TestStats(t *testing.T) {
	s := newStore(t)
	s.Create()
	s.AppendUserMessage("c1", "a")
	s.AppendUserMessage("c2", "b")
	s.AppendUserMessage("c2", "c")
	assert.Equal(t, Stats{Conversations: 2, Messages: 3}, s.Stats())
}
