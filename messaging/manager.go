package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Worker is a long-running consumer loop.
type Worker interface {
	Name() string
	Start(ctx context.Context) error
	Close() error
}

// ConsumerManager runs workers in the background and stops them together.
type ConsumerManager struct {
	logger  *slog.Logger
	workers []Worker
	wg      sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

func NewConsumerManager(logger *slog.Logger) *ConsumerManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsumerManager{logger: logger.With("component", "consumers")}
}

func (m *ConsumerManager) Register(w Worker) {
	m.workers = append(m.workers, w)
}

func (m *ConsumerManager) Start(ctx context.Context) {
	for _, w := range m.workers {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := w.Start(ctx); err != nil {
				m.logger.ErrorContext(ctx, "worker stopped", "worker", w.Name(), "error", err)
				m.mu.Lock()
				m.errs = append(m.errs, err)
				m.mu.Unlock()
			}
		}()
	}
}

// Close stops every worker and waits for in-flight messages. It returns the
// errors workers exited with.
func (m *ConsumerManager) Close() error {
	for _, w := range m.workers {
		if err := w.Close(); err != nil {
			m.logger.Error("worker close failed", "worker", w.Name(), "error", err)
		}
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Join(m.errs...)
}
