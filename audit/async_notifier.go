package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// AsyncNotifier writes notifications as JSON lines from a background worker.
type AsyncNotifier struct {
	notifications chan Notification
	done          chan struct{}
	closeOnce     sync.Once
	writer        io.Writer
	wg            sync.WaitGroup
	logger        *slog.Logger

	// closeMu keeps senders and the channel close apart. Blocked senders are
	// released through done before Close takes the write lock.
	closeMu sync.RWMutex
	closed  bool

	blockOnFull bool

	// Drop strategy metrics
	dropCount   uint64
	lastLogTime time.Time
	dropMu      sync.Mutex
}

func NewAsyncNotifier(w io.Writer, bufferSize int, blockOnFull bool, logger *slog.Logger) *AsyncNotifier {
	if w == nil {
		w = os.Stdout
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	n := &AsyncNotifier{
		notifications: make(chan Notification, bufferSize),
		done:          make(chan struct{}),
		writer:        w,
		logger:        logger,
		blockOnFull:   blockOnFull,
		lastLogTime:   time.Now(),
	}

	n.wg.Add(1)
	go n.worker()

	return n
}

func (n *AsyncNotifier) Notify(ctx context.Context, note Notification) error {
	n.closeMu.RLock()
	defer n.closeMu.RUnlock()
	if n.closed {
		n.handleDrop(note.Topic, dropClosed)
		return nil
	}

	if n.blockOnFull {
		select {
		case n.notifications <- note:
			return nil
		case <-n.done:
			n.handleDrop(note.Topic, dropClosed)
			return nil
		case <-ctx.Done():
			n.handleDrop(note.Topic, dropCancelled)
			return ctx.Err()
		}
	}

	select {
	case n.notifications <- note:
	default:
		n.handleDrop(note.Topic, dropFull)
	}
	return nil
}

type dropReason string

const (
	dropFull      dropReason = "buffer_full"
	dropClosed    dropReason = "closed"
	dropCancelled dropReason = "ctx_cancelled"
)

// Dropped returns the drops since the last drop warning.
func (n *AsyncNotifier) Dropped() uint64 {
	return atomic.LoadUint64(&n.dropCount)
}

func (n *AsyncNotifier) handleDrop(topic string, reason dropReason) {
	currentDrops := atomic.AddUint64(&n.dropCount, 1)
	if reason == dropClosed {
		n.logger.Warn("audit notifier closed, dropping notification", "topic", topic)
		return
	}

	n.dropMu.Lock()
	defer n.dropMu.Unlock()

	if time.Since(n.lastLogTime) >= 5*time.Second {
		msg := "audit notification buffer full, dropping"
		if reason == dropCancelled {
			msg = "audit notification cancelled while waiting for buffer space"
		}
		n.logger.Warn(msg,
			"reason", string(reason),
			"total_dropped", currentDrops,
			"sample_topic", topic,
		)
		atomic.StoreUint64(&n.dropCount, 0)
		n.lastLogTime = time.Now()
	}
}

func (n *AsyncNotifier) worker() {
	defer n.wg.Done()
	encoder := json.NewEncoder(n.writer)

	for note := range n.notifications {
		if err := encoder.Encode(note); err != nil {
			n.logger.Error("failed to write audit notification", "error", err, "record_id", note.RecordID)
		}
	}
}

// Close drains buffered notifications and stops the worker.
func (n *AsyncNotifier) Close() error {
	n.closeOnce.Do(func() {
		close(n.done)
		n.closeMu.Lock()
		n.closed = true
		close(n.notifications)
		n.closeMu.Unlock()
	})
	n.wg.Wait()
	return nil
}
