package exchange

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"murmur/assistant"
	"murmur/audio"
	"murmur/conversation"
	"murmur/log"
)

const DefaultTimeout = 60 * time.Second

var (
	ErrNoClip = errors.New("no clip to send")
	ErrClosed = errors.New("exchanges closed")
)

// ClipKeeper stores a clip and returns the reference kept on its message.
type ClipKeeper interface {
	Keep(clip *audio.Clip) (string, error)
	Release(ref string)
}

// Observer hears about exchanges for notifications. Calls come from the
// goroutine running the exchange.
type Observer interface {
	ExchangeStarted(id conversation.ID, kind Kind)
	ExchangeFinished(id conversation.ID, kind Kind, err error)
}

type Kind string

const (
	KindVoice Kind = "voice"
	KindText  Kind = "text"
	KindEdit  Kind = "edit"
)

type Options struct {
	Timeout  time.Duration
	Clips    ClipKeeper
	Observer Observer
}

// Coordinator runs exchanges against the store. Submitted exchanges are not
// cancellable: they run until the service answers or the timeout expires.
type Coordinator struct {
	store    *conversation.Store
	svc      assistant.Assistant
	clips    ClipKeeper
	observer Observer
	timeout  time.Duration

	wg     sync.WaitGroup
	mu     sync.Mutex
	count  int
	closed bool
}

func NewCoordinator(store *conversation.Store, svc assistant.Assistant, opts Options) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Coordinator{
		store:    store,
		svc:      svc,
		clips:    opts.Clips,
		observer: opts.Observer,
		timeout:  opts.Timeout,
	}
}

// History maps the final messages of msgs to service turns, oldest first.
func History(msgs []conversation.Message) []assistant.Turn {
	final := conversation.FinalMessages(msgs)
	turns := make([]assistant.Turn, 0, len(final))
	for _, m := range final {
		turns = append(turns, assistant.Turn{Role: m.Role(), Content: m.Text})
	}
	return turns
}

// Count is the number of exchanges that reached the service.
func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Wait blocks until every exchange in flight has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close refuses new exchanges with ErrClosed and waits for those in flight.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coordinator) begin(id conversation.ID) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()
	if err := c.store.BeginExchange(id); err != nil {
		c.wg.Done()
		return err
	}
	return nil
}

// abort undoes begin for an exchange rejected before reaching the service.
func (c *Coordinator) abort(id conversation.ID) {
	c.store.AbortExchange(id)
	c.wg.Done()
}

func (c *Coordinator) launch(id conversation.ID, kind Kind) {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	if c.observer != nil {
		c.observer.ExchangeStarted(id, kind)
	}
}

func (c *Coordinator) end(id conversation.ID, kind Kind, err error) {
	if c.observer != nil {
		c.observer.ExchangeFinished(id, kind, err)
	}
	c.wg.Done()
}

func (c *Coordinator) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
}

// SendVoice submits a finished clip for conversation id. Service failures end
// up as messages in the conversation; the returned error only reports
// exchanges that could not start.
func (c *Coordinator) SendVoice(ctx context.Context, id conversation.ID, clip *audio.Clip) error {
	if clip == nil {
		return ErrNoClip
	}
	if err := c.begin(id); err != nil {
		return err
	}

	msgs, err := c.store.Messages(id)
	if err != nil {
		c.abort(id)
		return err
	}
	history := History(msgs)

	ref := ""
	if c.clips != nil {
		if ref, err = c.clips.Keep(clip); err != nil {
			log.Warnf("keeping clip: %v", err)
			ref = ""
		}
	}
	if _, err := c.store.AppendPlaceholder(id, ref); err != nil {
		if ref != "" {
			c.clips.Release(ref)
		}
		c.abort(id)
		return err
	}

	c.launch(id, KindVoice)
	rctx, cancel := c.requestContext(ctx)
	defer cancel()
	reply, err := c.svc.TranscribeAndRespond(rctx, assistant.Upload{
		Filename:    clip.Filename(),
		ContentType: clip.MIMEType(),
		Body:        clip.Reader(),
	}, history)

	rec := log.Exchange{
		Kind:         string(KindVoice),
		Conversation: string(id),
		Format:       clip.Format(),
		AudioLengthS: clip.Duration().Seconds(),
		ClipKB:       float64(clip.Size()) / 1024,
		EncodeTimeMs: float64(clip.EncodeTime()) / float64(time.Millisecond),
		HistoryLen:   len(history),
	}
	c.end(id, KindVoice, c.finish(id, rec, reply, err))
	return nil
}

// SendText submits typed text for conversation id.
func (c *Coordinator) SendText(ctx context.Context, id conversation.ID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return conversation.ErrEmptyMessage
	}
	if err := c.begin(id); err != nil {
		return err
	}

	msgs, err := c.store.Messages(id)
	if err != nil {
		c.abort(id)
		return err
	}
	history := History(msgs)
	if _, err := c.store.AppendUserMessage(id, text); err != nil {
		c.abort(id)
		return err
	}

	c.launch(id, KindText)
	log.ExchangeText(string(id), "user", text)
	rctx, cancel := c.requestContext(ctx)
	defer cancel()
	reply, err := c.svc.Chat(rctx, text, history)
	rec := log.Exchange{Kind: string(KindText), Conversation: string(id), HistoryLen: len(history)}
	c.end(id, KindText, c.finish(id, rec, reply, err))
	return nil
}

// Edit replaces the user message at index with text, drops everything after
// it and asks again with the history that preceded the edited message.
func (c *Coordinator) Edit(ctx context.Context, id conversation.ID, index int, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return conversation.ErrEmptyMessage
	}
	if err := c.begin(id); err != nil {
		return err
	}

	msgs, err := c.store.Messages(id)
	if err != nil {
		c.abort(id)
		return err
	}
	var history []assistant.Turn
	if index >= 0 && index <= len(msgs) {
		history = History(msgs[:index])
	}
	if err := c.store.EditMessage(id, index, text); err != nil {
		c.abort(id)
		return err
	}

	c.launch(id, KindEdit)
	log.ExchangeText(string(id), "user", text)
	rctx, cancel := c.requestContext(ctx)
	defer cancel()
	reply, err := c.svc.Chat(rctx, text, history)
	rec := log.Exchange{Kind: string(KindEdit), Conversation: string(id), HistoryLen: len(history)}
	c.end(id, KindEdit, c.finish(id, rec, reply, err))
	return nil
}

// finish applies the outcome to the store and logs it. It returns the
// service error, if any.
func (c *Coordinator) finish(id conversation.ID, rec log.Exchange, reply *assistant.Reply, svcErr error) error {
	if reply != nil && reply.Metrics != nil {
		m := reply.Metrics
		rec.DNSTimeMs = ms(m.DNS)
		rec.TLSTimeMs = ms(m.TLS)
		rec.TTFBMs = ms(m.TTFB)
		rec.TotalTimeMs = ms(m.Total)
		rec.ConnReused = m.ConnReused
	}

	var storeErr error
	if svcErr != nil {
		rec.Outcome = "failed"
		log.Errorf("%s exchange failed: %v", rec.Kind, svcErr)
		storeErr = c.store.FailExchange(id, svcErr)
	} else {
		rec.Outcome = "ok"
		if reply.Transcript != "" {
			log.ExchangeText(string(id), "user", reply.Transcript)
		}
		log.ExchangeText(string(id), "assistant", reply.Response)
		storeErr = c.store.CompleteExchange(id, conversation.Result{Transcript: reply.Transcript, Reply: reply.Response})
	}
	if storeErr != nil {
		log.Warnf("exchange for %s finished after it was removed: %v", id, storeErr)
	}
	log.ExchangeMetrics(rec)
	return svcErr
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
