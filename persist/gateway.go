package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"murmur/conversation"
	"murmur/kv"
	"murmur/log"
)

var (
	ErrCorrupt     = errors.New("persist: stored conversations are unreadable")
	ErrWriteFailed = errors.New("persist: write failed")
)

var (
	rootKey          = kv.Key{"murmur"}
	conversationsKey = kv.Key{"murmur", "conversations"}
	corruptKey       = kv.Key{"murmur", "backup", "conversations"}
	displayNameKey   = kv.Key{"murmur", "profile", "display_name"}
	joinDateKey      = kv.Key{"murmur", "profile", "join_date"}
)

const DefaultDisplayName = "User"

type Option func(*Gateway)

// WithWarnings sets the handler that hears about failed writes.
func WithWarnings(fn func(error)) Option {
	return func(g *Gateway) { g.warn = fn }
}

// WithClock replaces time.Now for join dates.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// Gateway mirrors the conversation store and user preferences into a kv
// medium. Writes are whole-snapshot overwrites; a snapshot older than the
// last one written is skipped.
type Gateway struct {
	kv   kv.Store
	warn func(error)
	now  func() time.Time

	mu          sync.Mutex
	wrote       bool
	lastVersion uint64
}

func New(store kv.Store, opts ...Option) *Gateway {
	g := &Gateway{kv: store, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g
}

func freshSet() []conversation.Conversation {
	return []conversation.Conversation{{
		ID:       conversation.NewID(),
		Title:    conversation.DefaultTitle,
		Messages: []conversation.Message{},
	}}
}

// LoadConversations reads the stored set. A missing or empty set yields one
// fresh conversation. An unreadable one also yields a fresh conversation,
// together with ErrCorrupt; the unreadable bytes are kept aside.
func (g *Gateway) LoadConversations(ctx context.Context) ([]conversation.Conversation, error) {
	raw, err := g.kv.Get(ctx, conversationsKey)
	if errors.Is(err, kv.ErrNotFound) {
		return freshSet(), nil
	}
	if err != nil {
		return freshSet(), fmt.Errorf("loading conversations: %w", err)
	}

	var convs []conversation.Conversation
	if err := json.Unmarshal(raw, &convs); err != nil {
		log.Errorf("stored conversations unreadable, starting fresh: %v", err)
		if berr := g.kv.Set(ctx, corruptKey, raw); berr != nil {
			log.Warnf("backing up unreadable conversations: %v", berr)
		}
		return freshSet(), fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if len(convs) == 0 {
		return freshSet(), nil
	}
	for i := range convs {
		convs[i].Messages = validMessages(convs[i])
	}
	return convs, nil
}

// validMessages drops the messages of c that fail validation so one bad
// entry does not cost the whole set.
func validMessages(c conversation.Conversation) []conversation.Message {
	out := make([]conversation.Message, 0, len(c.Messages))
	for i, m := range c.Messages {
		if err := m.Validate(); err != nil {
			log.Warnf("dropping message %d of conversation %s: %v", i, c.ID, err)
			continue
		}
		out = append(out, m)
	}
	return out
}

// Backup returns the unreadable snapshot kept aside by LoadConversations, or
// nil when there is none.
func (g *Gateway) Backup(ctx context.Context) ([]byte, error) {
	raw, err := g.kv.Get(ctx, corruptKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	return raw, err
}

// Save writes snap unless a newer snapshot was already written.
func (g *Gateway) Save(ctx context.Context, snap conversation.Snapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.wrote && snap.Version < g.lastVersion {
		return nil
	}
	data, err := json.Marshal(snap.Conversations)
	if err == nil {
		err = g.kv.Set(ctx, conversationsKey, data)
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrWriteFailed, err)
		log.Warnf("saving conversations: %v", err)
		if g.warn != nil {
			g.warn(err)
		}
		return err
	}
	g.wrote = true
	g.lastVersion = snap.Version
	return nil
}

// Mirror saves the store now and after every mutation. The returned func
// stops mirroring.
func (g *Gateway) Mirror(ctx context.Context, store *conversation.Store) func() {
	unsubscribe := store.Subscribe(func(snap conversation.Snapshot) {
		g.Save(ctx, snap)
	})
	g.Save(ctx, store.Snapshot())
	return unsubscribe
}

func (g *Gateway) DisplayName(ctx context.Context) string {
	raw, err := g.kv.Get(ctx, displayNameKey)
	if err != nil || strings.TrimSpace(string(raw)) == "" {
		return DefaultDisplayName
	}
	return string(raw)
}

// SetDisplayName stores the trimmed name. Blank names are ignored.
func (g *Gateway) SetDisplayName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if err := g.kv.Set(ctx, displayNameKey, []byte(name)); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// JoinDate returns when the user first ran murmur, recording it on the first
// call.
func (g *Gateway) JoinDate(ctx context.Context) (time.Time, error) {
	raw, err := g.kv.Get(ctx, joinDateKey)
	if err == nil {
		if t, perr := time.Parse(time.RFC3339, string(raw)); perr == nil {
			return t, nil
		}
	} else if !errors.Is(err, kv.ErrNotFound) {
		return time.Time{}, err
	}
	now := g.now().UTC().Truncate(time.Second)
	if err := g.kv.Set(ctx, joinDateKey, []byte(now.Format(time.RFC3339))); err != nil {
		return now, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return now, nil
}

// Export writes the stored conversation set as indented JSON.
func (g *Gateway) Export(ctx context.Context, w io.Writer) error {
	raw, err := g.kv.Get(ctx, conversationsKey)
	if errors.Is(err, kv.ErrNotFound) {
		raw = []byte("[]")
	} else if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(w)
	return err
}

// Wipe deletes everything murmur stored in the medium.
func (g *Gateway) Wipe(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.kv.DeletePrefix(ctx, rootKey); err != nil {
		return err
	}
	g.wrote = false
	g.lastVersion = 0
	return nil
}
