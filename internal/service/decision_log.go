package service

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentguard/agentguard/internal/domain/policy"
)

// DecisionRecord is one evaluated tool call as seen by the guard.
type DecisionRecord struct {
	Time      time.Time     `json:"time"`
	ToolName  string        `json:"toolName"`
	AgentID   string        `json:"agentId,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	Action    policy.Action `json:"action"`
	RuleName  string        `json:"ruleName,omitempty"`
	Reason    string        `json:"reason"`
}

// DecisionLog keeps a bounded in-memory ring of recent decisions, fed
// through a buffered channel by a background worker so the evaluation hot
// path never blocks. Records are process-local and lost on restart; full
// buffers drop records and count the drops.
type DecisionLog struct {
	ch       chan DecisionRecord
	done     chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
	dropHook func()

	mu    sync.Mutex
	ring  []DecisionRecord
	next  int
	count int

	dropCount atomic.Int64
	closeOnce sync.Once
}

const (
	defaultLogCapacity    = 256
	defaultLogChannelSize = 1024
)

// DecisionLogOption configures a DecisionLog.
type DecisionLogOption func(*DecisionLog)

// WithLogCapacity sets how many recent decisions are retained.
func WithLogCapacity(n int) DecisionLogOption {
	return func(l *DecisionLog) {
		if n > 0 {
			l.ring = make([]DecisionRecord, n)
		}
	}
}

// WithLogChannelSize sets the feed channel buffer.
func WithLogChannelSize(n int) DecisionLogOption {
	return func(l *DecisionLog) {
		if n > 0 {
			l.ch = make(chan DecisionRecord, n)
		}
	}
}

// WithDropHook registers a callback invoked once per dropped record, for
// exporting the drop count as a metric.
func WithDropHook(fn func()) DecisionLogOption {
	return func(l *DecisionLog) {
		l.dropHook = fn
	}
}

// NewDecisionLog creates a DecisionLog and starts its worker. Call Close to
// stop it.
func NewDecisionLog(logger *slog.Logger, opts ...DecisionLogOption) *DecisionLog {
	if logger == nil {
		logger = slog.Default()
	}
	l := &DecisionLog{
		ch:     make(chan DecisionRecord, defaultLogChannelSize),
		done:   make(chan struct{}),
		logger: logger,
		ring:   make([]DecisionRecord, defaultLogCapacity),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.wg.Add(1)
	go l.worker()
	return l
}

// Record enqueues a decision without blocking. A full channel drops the
// record and increments the drop counter.
func (l *DecisionLog) Record(rec DecisionRecord) {
	select {
	case l.ch <- rec:
	default:
		drops := l.dropCount.Add(1)
		if l.dropHook != nil {
			l.dropHook()
		}
		l.logger.Warn("decision record dropped",
			"tool", rec.ToolName,
			"total_drops", drops,
		)
	}
}

// Recent returns the retained decisions, oldest first.
func (l *DecisionLog) Recent() []DecisionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]DecisionRecord, 0, l.count)
	start := 0
	if l.count == len(l.ring) {
		start = l.next
	}
	for i := 0; i < l.count; i++ {
		out = append(out, l.ring[(start+i)%len(l.ring)])
	}
	return out
}

// Drops returns how many records were dropped due to backpressure.
func (l *DecisionLog) Drops() int64 {
	return l.dropCount.Load()
}

// Close stops the worker after draining buffered records. Idempotent.
func (l *DecisionLog) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
}

// worker appends records to the ring until Close, then drains the channel.
func (l *DecisionLog) worker() {
	defer l.wg.Done()
	for {
		select {
		case rec := <-l.ch:
			l.append(rec)
		case <-l.done:
			for {
				select {
				case rec := <-l.ch:
					l.append(rec)
				default:
					return
				}
			}
		}
	}
}

func (l *DecisionLog) append(rec DecisionRecord) {
	l.mu.Lock()
	l.ring[l.next] = rec
	l.next = (l.next + 1) % len(l.ring)
	if l.count < len(l.ring) {
		l.count++
	}
	l.mu.Unlock()
}
