package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/governance"
	"mercator-hq/gatekeeper/pkg/store"
)

// appendAttempts bounds how often a write is re-chained after another
// writer took its sequence.
const appendAttempts = 3

var (
	// ErrBufferFull indicates an entry was dropped because the write
	// buffer stayed full for the whole write timeout.
	ErrBufferFull = errors.New("audit buffer full")

	// ErrClosed indicates the recorder no longer accepts entries.
	ErrClosed = errors.New("audit recorder closed")
)

// Config contains configuration for the activity recorder.
type Config struct {
	// Enabled enables activity recording.
	// Default: true
	Enabled bool

	// BufferSize is the size of the async write channel buffer.
	// Default: 1000
	BufferSize int

	// WriteTimeout bounds both enqueueing and a single store write.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		BufferSize:   config.DefaultAuditBufferSize,
		WriteTimeout: config.DefaultAuditWriteTimeout,
	}
}

// FromConfig converts the file configuration.
func FromConfig(cfg config.AuditConfig) *Config {
	return &Config{
		Enabled:      cfg.Enabled,
		BufferSize:   cfg.BufferSize,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// Recorder writes activity entries to the store from a single background
// worker, which assigns sequence numbers and chains each entry to the
// previous one by hash. It implements governance.Recorder.
//
// Several processes may share one store. When another writer has taken the
// next sequence, the worker re-reads the chain head and chains the entry
// after it.
type Recorder struct {
	store  store.Store
	config *Config
	logger *slog.Logger

	entries chan *governance.Activity
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once

	// Owned by the worker.
	seq      int64
	prevHash string
}

// NewRecorder creates a recorder that continues the chain already in st.
func NewRecorder(ctx context.Context, st store.Store, cfg *Config, logger *slog.Logger) (*Recorder, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = config.DefaultAuditBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = config.DefaultAuditWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	last, err := st.LastActivity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}

	r := &Recorder{
		store:    st,
		config:   cfg,
		logger:   logger.With("component", "audit.recorder"),
		entries:  make(chan *governance.Activity, cfg.BufferSize),
		done:     make(chan struct{}),
		prevHash: GenesisHash,
	}
	if last != nil {
		r.seq = last.Sequence
		r.prevHash = last.Hash
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("activity recorder initialized",
		"enabled", cfg.Enabled,
		"buffer_size", cfg.BufferSize,
		"head_sequence", r.seq,
	)
	return r, nil
}

// Record enqueues a copy of a and returns without waiting for the write.
func (r *Recorder) Record(ctx context.Context, a *governance.Activity) error {
	if !r.config.Enabled {
		return nil
	}
	entry := *a

	select {
	case <-r.done:
		return ErrClosed
	default:
	}

	timer := time.NewTimer(r.config.WriteTimeout)
	defer timer.Stop()

	select {
	case r.entries <- &entry:
		return nil
	case <-timer.C:
		r.logger.Error("activity buffer full, dropping entry",
			"kind", entry.Kind,
			"subject", entry.Subject,
			"buffer_size", r.config.BufferSize,
		)
		return ErrBufferFull
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting entries, drains the buffer and waits for the
// worker to finish.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.logger.Info("activity recorder shut down", "head_sequence", r.seq)
	})
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case a := <-r.entries:
			r.write(a)
		case <-r.done:
			for {
				select {
				case a := <-r.entries:
					r.write(a)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(a *governance.Activity) {
	a.Timestamp = a.Timestamp.UTC()

	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	for attempt := 1; ; attempt++ {
		if err := r.chain(a); err != nil {
			r.logger.Error("failed to hash activity", "kind", a.Kind, "subject", a.Subject, "error", err)
			return
		}
		err := r.store.AppendActivity(ctx, a)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrDuplicate) && attempt < appendAttempts {
			r.logger.Warn("activity sequence taken by another writer, re-reading chain head",
				"sequence", a.Sequence,
				"attempt", attempt,
			)
			if err := r.reloadHead(ctx); err != nil {
				r.logger.Error("failed to read chain head", "error", err)
				return
			}
			continue
		}
		r.logger.Error("failed to store activity",
			"kind", a.Kind,
			"subject", a.Subject,
			"sequence", a.Sequence,
			"error", err,
		)
		return
	}
	r.seq = a.Sequence
	r.prevHash = a.Hash

	r.logger.Debug("activity recorded",
		"kind", a.Kind,
		"subject", a.Subject,
		"sequence", a.Sequence,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// chain links a after the current head and sets its hash.
func (r *Recorder) chain(a *governance.Activity) error {
	a.Sequence = r.seq + 1
	a.PrevHash = r.prevHash
	hash, err := Hash(a)
	if err != nil {
		return err
	}
	a.Hash = hash
	return nil
}

func (r *Recorder) reloadHead(ctx context.Context) error {
	last, err := r.store.LastActivity(ctx)
	if err != nil {
		return err
	}
	if last != nil {
		r.seq = last.Sequence
		r.prevHash = last.Hash
	}
	return nil
}
