package connectivity

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/synaxhq/synax/internal/loggy"
)

// Pinger checks that the API is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProbeOptions configures a ProbeSource
type ProbeOptions struct {
	Interval time.Duration // between probes while online
	Timeout  time.Duration // per probe
	MaxDelay time.Duration // ceiling of the offline backoff
}

// ProbeSource polls the API health endpoint. While online it probes at a
// fixed interval; while offline it backs off exponentially up to MaxDelay.
type ProbeSource struct {
	pinger Pinger
	opts   ProbeOptions
	logger *loggy.Logger
}

// NewProbeSource creates a new health probe source
func NewProbeSource(pinger Pinger, opts ProbeOptions, logger *loggy.Logger) *ProbeSource {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 2 * time.Minute
	}
	return &ProbeSource{pinger: pinger, opts: opts, logger: logger}
}

// Online performs one probe
func (s *ProbeSource) Online(ctx context.Context) bool {
	return s.probe(ctx) == nil
}

func (s *ProbeSource) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	return s.pinger.Ping(ctx)
}

func (s *ProbeSource) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.Interval / 4
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxInterval = s.opts.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Watch probes until ctx is done
func (s *ProbeSource) Watch(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 1)

	go func() {
		defer close(ch)

		b := s.newBackOff()
		online := true
		for {
			err := s.probe(ctx)
			if ctx.Err() != nil {
				return
			}

			wait := s.opts.Interval
			if err != nil {
				if online {
					s.logger.Debug("API health probe failed", "error", err)
				}
				online = false
				wait = b.NextBackOff()
			} else {
				online = true
				b.Reset()
			}

			ev := Event{Online: online, At: time.Now(), Reason: "probe"}
			if err != nil {
				ev.Reason = err.Error()
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
	return ch, nil
}
