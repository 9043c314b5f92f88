// File: internal/meeting/monitor.go
package meeting

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ChatMessageRecord is one chat entry as remembered by the command monitor.
// Identity for dedup is the text plus the structural fingerprint; the
// capture timestamp is carried for logging but excluded from the key, so
// re-scanning unchanged history stays idempotent.
type ChatMessageRecord struct {
	Text        string
	Fingerprint string
	CapturedAt  time.Time
}

// Key is the dedup identity of the record.
func (r ChatMessageRecord) Key() string {
	h := fnv.New64a()
	h.Write([]byte(r.Text))
	h.Write([]byte{0})
	h.Write([]byte(r.Fingerprint))
	return strconv.FormatUint(h.Sum64(), 16)
}

// ChatReader is the slice of the session the monitor polls.
type ChatReader interface {
	CollectChatMessages(ctx context.Context) ([]ChatCapture, error)
	State() State
}

// seenCap bounds the dedup set; the oldest key is evicted first.
const seenCap = 512

// CommandMonitor watches the meeting chat for the shutdown token. It stays
// inert until Arm is called, so the session's own instruction messages that
// quote the token never trigger it: those exact texts are registered as
// system templates and skipped by literal equality.
type CommandMonitor struct {
	logger *zap.Logger
	reader ChatReader
	token  string

	interval time.Duration
	armed    atomic.Bool

	mu     sync.Mutex
	system map[string]struct{}
	seen   map[string]struct{}
	order  []string
}

// NewCommandMonitor builds a monitor for the shutdown token. The monitor
// starts disarmed.
func NewCommandMonitor(reader ChatReader, token string, interval time.Duration, logger *zap.Logger) *CommandMonitor {
	return &CommandMonitor{
		logger:   logger.Named("command"),
		reader:   reader,
		token:    token,
		interval: interval,
		system:   make(map[string]struct{}),
		seen:     make(map[string]struct{}),
	}
}

// ExcludeSystemMessage registers a message the session itself sends. A chat
// entry whose trimmed text equals a registered template is never treated as
// a command, however many times it appears.
func (m *CommandMonitor) ExcludeSystemMessage(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.system[strings.TrimSpace(text)] = struct{}{}
}

// Arm enables command detection. Call it only after every system message
// quoting the token has been registered.
func (m *CommandMonitor) Arm() {
	m.armed.Store(true)
	m.logger.Debug("Command channel armed", zap.String("token", m.token))
}

// PollOnce scans the chat a single time. It returns true when a new,
// non-system message containing the token was found. Scrape errors are
// returned for the caller to log; they never terminate the channel.
func (m *CommandMonitor) PollOnce(ctx context.Context) (bool, error) {
	if !m.armed.Load() {
		return false, nil
	}
	if m.reader.State() != StateChatReady {
		return false, nil
	}
	caps, err := m.reader.CollectChatMessages(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range caps {
		if !strings.Contains(c.Text, m.token) {
			continue
		}
		rec := ChatMessageRecord{Text: c.Text, Fingerprint: c.Fingerprint, CapturedAt: c.CapturedAt}
		if !m.remember(rec.Key()) {
			continue
		}
		if m.isSystem(c.Text) {
			m.logger.Debug("Skipping own instruction message")
			continue
		}
		m.logger.Info("Shutdown command received",
			zap.String("fingerprint", c.Fingerprint),
			zap.Time("captured_at", c.CapturedAt))
		return true, nil
	}
	return false, nil
}

// Run polls on the configured interval until a command fires or ctx is
// cancelled. On a command it signals shutdown exactly once and returns nil.
func (m *CommandMonitor) Run(ctx context.Context, shutdown chan<- struct{}) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fired, err := m.PollOnce(ctx)
			if err != nil {
				m.logger.Debug("Chat poll failed", zap.Error(err))
				continue
			}
			if fired {
				select {
				case shutdown <- struct{}{}:
				default:
				}
				return nil
			}
		}
	}
}

func (m *CommandMonitor) isSystem(text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.system[strings.TrimSpace(text)]
	return ok
}

// remember records the key and reports whether it was new.
func (m *CommandMonitor) remember(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[key]; dup {
		return false
	}
	if len(m.order) >= seenCap {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.seen, oldest)
	}
	m.seen[key] = struct{}{}
	m.order = append(m.order, key)
	return true
}
