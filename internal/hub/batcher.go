package hub

import (
	"strings"
	"sync"
	"time"
)

// Batcher coalesces output per session so one broadcast carries
// everything that arrived within the interval.
type Batcher struct {
	mu       sync.Mutex
	pending  map[string]*pendingOutput
	interval time.Duration
	onFlush  func(session string, msg OutputMessage)
}

type pendingOutput struct {
	texts []string
	ts    int64
	timer *time.Timer
}

func NewBatcher(interval time.Duration, onFlush func(string, OutputMessage)) *Batcher {
	return &Batcher{
		pending:  make(map[string]*pendingOutput),
		interval: interval,
		onFlush:  onFlush,
	}
}

func (b *Batcher) Add(msg OutputMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	session := msg.Session
	p, exists := b.pending[session]
	if !exists {
		p = &pendingOutput{}
		b.pending[session] = p
	}

	p.texts = append(p.texts, msg.Text)
	if msg.Ts > p.ts {
		p.ts = msg.Ts
	}

	if p.timer == nil {
		p.timer = time.AfterFunc(b.interval, func() {
			b.flushSession(session)
		})
	}
}

func (b *Batcher) flushSession(session string) {
	b.mu.Lock()
	p, exists := b.pending[session]
	if !exists {
		b.mu.Unlock()
		return
	}
	delete(b.pending, session)
	b.mu.Unlock()

	if b.onFlush != nil && len(p.texts) > 0 {
		b.onFlush(session, OutputMessage{
			Type:    "output",
			Session: session,
			Text:    strings.Join(p.texts, ""),
			Ts:      p.ts,
		})
	}
}

func (b *Batcher) FlushAll() {
	b.mu.Lock()
	sessions := make([]string, 0, len(b.pending))
	for s := range b.pending {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		b.flushSession(s)
	}
}
