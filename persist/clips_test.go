package persist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/audio"
	"murmur/conversation"
)

func TestClipsKeepRelease(t *testing.T) {
	clips, err := NewClips(filepath.Join(t.TempDir(), "clips"))
	require.NoError(t, err)

	clip, err := audio.NewClip("wav", make([]byte, 1600))
	require.NoError(t, err)

	ref, err := clips.Keep(clip)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(ref, ".wav"))

	path, err := clips.Path(ref)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, clip.Size())
	assert.Equal(t, "RIFF", string(data[:4]))

	clips.Release(ref)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	clips.Release(ref)
}

func TestClipsRejectsEscapes(t *testing.T) {
	clips, err := NewClips(t.TempDir())
	require.NoError(t, err)
	for _, ref := range []string{"", "../x.wav", "a/b.wav", ".hidden"} {
		_, err := clips.Path(ref)
		assert.Error(t, err, ref)
	}
}

func TestClipsPruneAndPurge(t *testing.T) {
	clips, err := NewClips(t.TempDir())
	require.NoError(t, err)
	clip, err := audio.NewClip("wav", make([]byte, 320))
	require.NoError(t, err)

	live, err := clips.Keep(clip)
	require.NoError(t, err)
	orphan, err := clips.Keep(clip)
	require.NoError(t, err)

	msg := conversation.UserAudio(live)
	msg.Status = conversation.StatusFinal
	removed, err := clips.Prune([]conversation.Conversation{{ID: "1", Messages: []conversation.Message{msg}}})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(filepath.Join(clips.Dir(), orphan))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(clips.Dir(), live))
	assert.NoError(t, err)

	require.NoError(t, clips.Purge())
	entries, _ := os.ReadDir(clips.Dir())
	assert.Empty(t, entries)
}

func TestClipsPruneKeepsBackedUpClips(t *testing.T) {
	clips, err := NewClips(t.TempDir())
	require.NoError(t, err)
	clip, err := audio.NewClip("wav", make([]byte, 320))
	require.NoError(t, err)

	saved, err := clips.Keep(clip)
	require.NoError(t, err)
	orphan, err := clips.Keep(clip)
	require.NoError(t, err)

	backup := []byte(`[{"id":"1","messages":[{"audioRef":"` + saved + `",`)
	removed, err := clips.Prune(nil, nil, backup)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.FileExists(t, filepath.Join(clips.Dir(), saved))
	assert.NoFileExists(t, filepath.Join(clips.Dir(), orphan))
}

func TestStoreReleasesClips(t *testing.T) {
	clips, err := NewClips(t.TempDir())
	require.NoError(t, err)
	clip, err := audio.NewClip("flac", make([]byte, 3200))
	require.NoError(t, err)
	ref, err := clips.Keep(clip)
	require.NoError(t, err)

	store := conversation.NewStore(nil, conversation.WithReleaser(clips.Release))
	_, err = store.AppendPlaceholder(store.ActiveID(), ref)
	require.NoError(t, err)
	require.NoError(t, store.Delete(store.ActiveID()))

	_, err = os.Stat(filepath.Join(clips.Dir(), ref))
	assert.True(t, os.IsNotExist(err))
}
