package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bridgeline/audiopipe/metrics"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second

	// defaultQualityTriggerCount is how many consecutive poor-quality
	// reports force a reconnect.
	defaultQualityTriggerCount = 5
)

// Dialer establishes a sink to the peer. The peer-connection layer provides
// an implementation.
type Dialer interface {
	Dial(ctx context.Context) (Sink, error)
}

// ReconnectorConfig configures a Reconnector.
type ReconnectorConfig struct {
	// Dialer establishes connections.
	Dialer Dialer

	// MaxRetries is the maximum number of reconnection attempts per cycle
	// before giving up. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial delay between retries. Doubles each attempt
	// up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff caps the retry delay. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// QualityThreshold is the pipeline quality score below which a report
	// counts as poor. Zero disables quality-triggered reconnection.
	QualityThreshold float64

	// QualityTriggerCount is how many consecutive poor reports trigger a
	// reconnect. Defaults to 5 if zero.
	QualityTriggerCount int

	// OnReconnect is called with the new sink after a successful
	// reconnection. May be nil.
	OnReconnect func(Sink)
}

// ReconnectorStats is a snapshot of reconnection counters.
type ReconnectorStats struct {
	Attempts   uint64
	Reconnects uint64
	Failures   uint64
}

// Reconnector maintains a sink to the peer, reconnecting with exponential
// backoff when the connection drops or when pipeline quality stays below a
// threshold for several consecutive monitoring intervals.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	dialer       Dialer
	maxRetries   int
	backoff      time.Duration
	maxBackoff   time.Duration
	threshold    float64
	triggerCount int
	onReconnect  func(Sink)

	mu           sync.Mutex
	sink         Sink
	poorStreak   int
	stats        ReconnectorStats
	lastErr      error
	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{}
}

// NewReconnector creates a Reconnector with the given configuration.
func NewReconnector(cfg ReconnectorConfig) (*Reconnector, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("dialer cannot be nil")
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	triggerCount := cfg.QualityTriggerCount
	if triggerCount <= 0 {
		triggerCount = defaultQualityTriggerCount
	}

	return &Reconnector{
		dialer:       cfg.Dialer,
		maxRetries:   maxRetries,
		backoff:      backoff,
		maxBackoff:   maxBackoff,
		threshold:    cfg.QualityThreshold,
		triggerCount: triggerCount,
		onReconnect:  cfg.OnReconnect,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}, nil
}

// Connect performs the initial connection.
func (r *Reconnector) Connect(ctx context.Context) (Sink, error) {
	sink, err := r.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial connect failed: %w", err)
	}

	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()

	logrus.WithField("function", "Connect").Info("Transport sink connected")
	return sink, nil
}

// Monitor starts a background goroutine that reconnects when a drop is
// signalled.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect signals that the connection has been lost. Safe to call
// multiple times; only the first call per cycle has effect.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

// ReportQuality feeds one aggregated quality score, 0 to 1. A streak of
// consecutive scores below the threshold triggers a reconnect.
func (r *Reconnector) ReportQuality(quality float64) {
	if r.threshold <= 0 {
		return
	}

	r.mu.Lock()
	if quality < r.threshold {
		r.poorStreak++
	} else {
		r.poorStreak = 0
	}
	trigger := r.poorStreak >= r.triggerCount
	if trigger {
		r.poorStreak = 0
	}
	r.mu.Unlock()

	if trigger {
		logrus.WithFields(logrus.Fields{
			"function":  "ReportQuality",
			"quality":   quality,
			"threshold": r.threshold,
		}).Warn("Sustained poor quality, forcing reconnect")
		r.NotifyDisconnect()
	}
}

// Sink returns the current sink. May be nil during reconnection.
func (r *Reconnector) Sink() Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink
}

// Stats returns a copy of the reconnection counters.
func (r *Reconnector) Stats() ReconnectorStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// LastError returns ErrMaxAttemptsExceeded after a reconnection cycle has
// exhausted its retries, or nil. A later successful reconnect clears it.
func (r *Reconnector) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Stop halts monitoring and closes the current sink. Safe to call multiple
// times.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	sink := r.sink
	r.sink = nil
	r.mu.Unlock()

	if sink != nil {
		return sink.Close()
	}
	return nil
}

func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect retries with exponential backoff up to maxRetries.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	currentBackoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		r.mu.Lock()
		r.stats.Attempts++
		r.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function":    "attemptReconnect",
			"attempt":     attempt,
			"max_retries": r.maxRetries,
			"backoff":     currentBackoff.String(),
		}).Info("Attempting reconnection")

		sink, err := r.dialer.Dial(ctx)
		if err == nil {
			r.mu.Lock()
			old := r.sink
			r.sink = sink
			r.stats.Reconnects++
			r.lastErr = nil
			r.mu.Unlock()

			metrics.ReconnectsTotal.Inc()

			if old != nil {
				_ = old.Close()
			}

			logrus.WithFields(logrus.Fields{
				"function": "attemptReconnect",
				"attempt":  attempt,
			}).Info("Reconnection successful")

			if r.onReconnect != nil {
				r.onReconnect(sink)
			}
			return
		}

		logrus.WithFields(logrus.Fields{
			"function": "attemptReconnect",
			"attempt":  attempt,
			"error":    err.Error(),
		}).Warn("Reconnection attempt failed")

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	r.mu.Lock()
	r.stats.Failures++
	r.lastErr = fmt.Errorf("%w: %d attempts", ErrMaxAttemptsExceeded, r.maxRetries)
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "attemptReconnect",
		"max_retries": r.maxRetries,
	}).Error("Reconnection failed after max retries")
}
