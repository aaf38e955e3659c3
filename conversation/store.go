package conversation

import (
	"errors"
	"slices"
	"strings"
	"sync"
)

var (
	ErrNotFound      = errors.New("conversation not found")
	ErrBusy          = errors.New("exchange already in flight")
	ErrEmptyTitle    = errors.New("title is empty")
	ErrEmptyMessage  = errors.New("message is empty")
	ErrInvalidIndex  = errors.New("message index is not an editable user message")
	ErrPendingExists = errors.New("conversation has a pending message")
	ErrNotInExchange = errors.New("no exchange in flight")
)

// Result is a successful response for the exchange in flight. Transcript is
// set only for voice exchanges.
type Result struct {
	Transcript string
	Reply      string
}

type Stats struct {
	Conversations int
	Messages      int
}

// Snapshot is a deep copy of the store after one mutation. Versions increase
// by one per mutation.
type Snapshot struct {
	Version       uint64
	ActiveID      ID
	Conversations []Conversation
}

type Option func(*Store)

// WithReleaser registers a hook that receives the audioRef of every audio
// message the store drops.
func WithReleaser(fn func(audioRef string)) Option {
	return func(s *Store) { s.release = fn }
}

// WithIDs replaces the id generator.
func WithIDs(fn func() ID) Option {
	return func(s *Store) { s.newID = fn }
}

// Store holds every conversation, newest first. All mutation goes through its
// mutex; subscribers and the release hook run after the lock is dropped.
type Store struct {
	mu       sync.Mutex
	convs    []*Conversation
	active   ID
	busy     map[ID]bool
	failures map[ID]error
	version  uint64

	subMu  sync.Mutex
	subs   map[int]func(Snapshot)
	nextID int

	release func(string)
	newID   func() ID
}

// NewStore seeds the store with loaded conversations. Messages left pending
// by an earlier process are marked failed since nothing is in flight for them.
func NewStore(loaded []Conversation, opts ...Option) *Store {
	s := &Store{
		busy:     make(map[ID]bool),
		failures: make(map[ID]error),
		subs:     make(map[int]func(Snapshot)),
		newID:    NewID,
	}
	for _, o := range opts {
		o(s)
	}
	seen := make(map[ID]bool)
	for _, c := range loaded {
		if c.ID == "" || seen[c.ID] {
			c.ID = s.newID()
		}
		seen[c.ID] = true
		c = c.clone()
		if c.Title == "" {
			c.Title = DefaultTitle
		}
		if i := c.pending(); i >= 0 {
			c.Messages[i].Status = StatusFailed
			c.Messages[i].Text = TranscriptFailed
		}
		s.convs = append(s.convs, &c)
	}
	if len(s.convs) == 0 {
		s.convs = []*Conversation{s.fresh()}
	}
	s.active = s.convs[0].ID
	return s
}

func (s *Store) fresh() *Conversation {
	return &Conversation{ID: s.newID(), Title: DefaultTitle, Messages: []Message{}}
}

func (s *Store) find(id ID) (int, *Conversation) {
	for i, c := range s.convs {
		if c.ID == id {
			return i, c
		}
	}
	return -1, nil
}

// commit bumps the version and returns the snapshot to publish. Called with
// s.mu held.
func (s *Store) commit() Snapshot {
	s.version++
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{Version: s.version, ActiveID: s.active}
	snap.Conversations = make([]Conversation, len(s.convs))
	for i, c := range s.convs {
		snap.Conversations[i] = c.clone()
	}
	return snap
}

func (s *Store) publish(snap Snapshot, dropped []Message) {
	if s.release != nil {
		for _, m := range dropped {
			if m.Kind == KindAudio && m.AudioRef != "" {
				s.release(m.AudioRef)
			}
		}
	}
	s.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// Subscribe registers fn for every later snapshot. The returned func removes it.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) Create() Conversation {
	s.mu.Lock()
	c := s.fresh()
	s.convs = append([]*Conversation{c}, s.convs...)
	s.active = c.ID
	out := c.clone()
	snap := s.commit()
	s.mu.Unlock()
	s.publish(snap, nil)
	return out
}

// Select makes id active. Unknown ids change nothing.
func (s *Store) Select(id ID) bool {
	s.mu.Lock()
	if _, c := s.find(id); c == nil || s.active == id {
		s.mu.Unlock()
		return c != nil
	}
	s.active = id
	snap := s.commit()
	s.mu.Unlock()
	s.publish(snap, nil)
	return true
}

func (s *Store) Delete(id ID) error {
	s.mu.Lock()
	i, c := s.find(id)
	if c == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.convs = slices.Delete(s.convs, i, i+1)
	delete(s.busy, id)
	delete(s.failures, id)
	if len(s.convs) == 0 {
		s.convs = []*Conversation{s.fresh()}
		s.active = s.convs[0].ID
	} else if s.active == id {
		s.active = s.convs[0].ID
	}
	snap := s.commit()
	s.mu.Unlock()
	s.publish(snap, c.Messages)
	return nil
}

// ClearAll drops every conversation and leaves a single fresh one.
func (s *Store) ClearAll() Conversation {
	s.mu.Lock()
	var dropped []Message
	for _, c := range s.convs {
		dropped = append(dropped, c.Messages...)
	}
	c := s.fresh()
	s.convs = []*Conversation{c}
	s.active = c.ID
	clear(s.busy)
	clear(s.failures)
	out := c.clone()
	snap := s.commit()
	s.mu.Unlock()
	s.publish(snap, dropped)
	return out
}

// Rename sets a user title. Auto-derivation never touches it again.
func (s *Store) Rename(id ID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	s.mu.Lock()
	_, c := s.find(id)
	if c == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	c.Title = title
	c.TitleLocked = true
	snap := s.commit()
	s.mu.Unlock()
	s.publish(snap, nil)
	return nil
}

func (s *Store) appendMessage(id ID, m Message) (int, error) {
	s.mu.Lock()
	_, c := s.find(id)
	if c == nil {
		s.mu.Unlock()
		return 0, ErrNotFound
	}
	if c.pending() >= 0 {
		s.mu.Unlock()
		return 0, ErrPendingExists
	}
	c.Messages = append(c.Messages, m)
	idx := len(c.Messages) - 1
	snap := s.commit()
	s.mu.Unlock()
	s.publish(snap, nil)
	return idx, nil
}

// AppendUserMessage adds a final user text message and returns its index.
func (s *Store) AppendUserMessage(id ID, content string) (int, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0, ErrEmptyMessage
	}
	return s.appendMessage(id, UserText(content))
}

// AppendPlaceholder adds the pending audio message for a clip in flight.
func (s *Store) AppendPlaceholder(id ID, audioRef string) (int, error) {
	return s.appendMessage(id, UserAudio(audioRef))
}

func (s *Store) BeginExchange(id ID) error {
	s.mu.Lock()
	_, c := s.find(id)
	if c == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	if s.busy[id] {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy[id] = true
	delete(s.failures, id)
	snap := s.commit()
	s.mu.Unlock()
	s.publish(snap, nil)
	return nil
}

func (s *Store) inExchange(id ID) (*Conversation, error) {
	_, c := s.find(id)
	if c == nil {
		return nil, ErrNotFound
	}
	if !s.busy[id] {
		return nil, ErrNotInExchange
	}
	return c, nil
}

// CompleteExchange finalizes the pending placeholder (if any) with the
// transcript, appends the reply and derives the title while it is still
// automatic.
func (s *Store) CompleteExchange(id ID, res Result) error {
	s.mu.Lock()
	c, err := s.inExchange(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	source, fallback := "", TextTitle
	if i := c.pending(); i >= 0 {
		c.Messages[i].Status = StatusFinal
		c.Messages[i].Text = res.Transcript
		if strings.TrimSpace(res.Transcript) == "" {
			c.Messages[i].Text = TranscriptEmpty
		}
		source, fallback = res.Transcript, VoiceTitle
	} else if n := len(c.Messages); n > 0 && c.Messages[n-1].Sender == SenderUser {
		source = c.Messages[n-1].Text
	}
	c.Messages = append(c.Messages, AssistantText(res.Reply))
	if !c.TitleLocked && c.Title == DefaultTitle && source != "" {
		c.Title = DeriveTitle(source, fallback)
	}

	delete(s.busy, id)
	snap := s.commit()
	s.mu.Unlock()
	s.publish(snap, nil)
	return nil
}

// FailExchange marks the pending placeholder (if any) failed and appends the
// fixed error reply. Nothing is removed.
func (s *Store) FailExchange(id ID, reason error) error {
	s.mu.Lock()
	c, err := s.inExchange(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if i := c.pending(); i >= 0 {
		c.Messages[i].Status = StatusFailed
		c.Messages[i].Text = TranscriptFailed
	}
	c.Messages = append(c.Messages, AssistantError())
	delete(s.busy, id)
	if reason != nil {
		s.failures[id] = reason
	}
	snap := s.commit()
	s.mu.Unlock()
	s.publish(snap, nil)
	return nil
}

// AbortExchange clears busy without touching messages. Used when an exchange
// is rejected before anything was appended.
func (s *Store) AbortExchange(id ID) {
	s.mu.Lock()
	if !s.busy[id] {
		s.mu.Unlock()
		return
	}
	delete(s.busy, id)
	snap := s.commit()
	s.mu.Unlock()
	s.publish(snap, nil)
}

// EditMessage replaces the user message at index and drops everything after
// it, leaving the new text as the last message.
func (s *Store) EditMessage(id ID, index int, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	s.mu.Lock()
	_, c := s.find(id)
	if c == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	if c.pending() >= 0 {
		s.mu.Unlock()
		return ErrPendingExists
	}
	if index < 0 || index >= len(c.Messages) || c.Messages[index].Sender != SenderUser {
		s.mu.Unlock()
		return ErrInvalidIndex
	}
	dropped := slices.Clone(c.Messages[index:])
	c.Messages = append(c.Messages[:index:index], UserText(content))
	snap := s.commit()
	s.mu.Unlock()
	s.publish(snap, dropped)
	return nil
}

func (s *Store) ActiveID() ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Store) Active() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, c := s.find(s.active)
	return c.clone()
}

func (s *Store) Get(id ID) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, c := s.find(id)
	if c == nil {
		return Conversation{}, false
	}
	return c.clone(), true
}

func (s *Store) List() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked().Conversations
}

func (s *Store) Messages(id ID) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, c := s.find(id)
	if c == nil {
		return nil, ErrNotFound
	}
	return slices.Clone(c.Messages), nil
}

func (s *Store) Busy(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy[id]
}

// LastFailure is the reason given to the most recent FailExchange for id,
// cleared when the next exchange begins.
func (s *Store) LastFailure(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[id]
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Conversations: len(s.convs)}
	for _, c := range s.convs {
		st.Messages += len(c.Messages)
	}
	return st
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}
