package persist

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"murmur/audio"
	"murmur/conversation"
	"murmur/log"
)

// Clips keeps recorded clips as files under one directory. A message's
// audioRef is the file name.
type Clips struct {
	dir string
}

func NewClips(dir string) (*Clips, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating clip directory: %w", err)
	}
	return &Clips{dir: abs}, nil
}

func (c *Clips) Dir() string { return c.dir }

func (c *Clips) resolve(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", fmt.Errorf("invalid clip reference %q", ref)
	}
	return filepath.Join(c.dir, ref), nil
}

// Keep writes clip to a new file and returns its reference.
func (c *Clips) Keep(clip *audio.Clip) (string, error) {
	ref := uuid.Must(uuid.NewV7()).String() + "." + clip.Format()
	path, _ := c.resolve(ref)

	tmp, err := os.CreateTemp(c.dir, ".clip-*")
	if err != nil {
		return "", err
	}
	if _, err := clip.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return ref, nil
}

// Path returns the file behind ref.
func (c *Clips) Path(ref string) (string, error) {
	return c.resolve(ref)
}

// Release deletes the clip behind ref. Missing files are ignored.
func (c *Clips) Release(ref string) {
	path, err := c.resolve(ref)
	if err != nil {
		log.Warnf("release clip: %v", err)
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnf("release clip %s: %v", ref, err)
	}
}

// Prune removes clip files no conversation refers to, such as clips left
// behind by a crash. Clips named anywhere in a backup are kept so an
// unreadable snapshot can still be recovered with its audio. It returns how
// many were removed.
func (c *Clips) Prune(convs []conversation.Conversation, backups ...[]byte) (int, error) {
	live := make(map[string]bool)
	for _, conv := range convs {
		for _, m := range conv.Messages {
			if m.AudioRef != "" {
				live[m.AudioRef] = true
			}
		}
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || live[e.Name()] || inBackup(backups, e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func inBackup(backups [][]byte, name string) bool {
	for _, b := range backups {
		if bytes.Contains(b, []byte(name)) {
			return true
		}
	}
	return false
}

// Purge deletes every clip.
func (c *Clips) Purge() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
