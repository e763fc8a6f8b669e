package connectivity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaxhq/synax/internal/loggy"
)

type fakePinger struct {
	healthy atomic.Bool
	calls   atomic.Int32
}

func (p *fakePinger) Ping(ctx context.Context) error {
	p.calls.Add(1)
	if p.healthy.Load() {
		return nil
	}
	return errors.New("dial tcp: connection refused")
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestManualSource(t *testing.T) {
	s := NewManualSource(false)
	assert.False(t, s.Online(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Watch(ctx)
	require.NoError(t, err)

	s.Set(true, "pushed")
	ev := nextEvent(t, ch)
	assert.True(t, ev.Online)
	assert.Equal(t, "pushed", ev.Reason)
	assert.True(t, s.Online(context.Background()))

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 5*time.Millisecond)

	// no watchers left; must not block
	s.Set(false, "after cancel")
}

func TestProbeSourceOnline(t *testing.T) {
	p := &fakePinger{}
	s := NewProbeSource(p, ProbeOptions{Interval: 10 * time.Millisecond, Timeout: time.Second, MaxDelay: 20 * time.Millisecond}, loggy.NewNoopLogger())

	assert.False(t, s.Online(context.Background()))
	p.healthy.Store(true)
	assert.True(t, s.Online(context.Background()))
}

func TestProbeSourceWatch(t *testing.T) {
	p := &fakePinger{}
	s := NewProbeSource(p, ProbeOptions{Interval: 10 * time.Millisecond, Timeout: time.Second, MaxDelay: 20 * time.Millisecond}, loggy.NewNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.Watch(ctx)
	require.NoError(t, err)

	ev := nextEvent(t, ch)
	assert.False(t, ev.Online)
	assert.Contains(t, ev.Reason, "connection refused")

	p.healthy.Store(true)
	for {
		ev = nextEvent(t, ch)
		if ev.Online {
			break
		}
	}
	assert.Equal(t, "probe", ev.Reason)

	cancel()
	for range ch {
	}
}

func TestProbeBackOffCapped(t *testing.T) {
	s := NewProbeSource(&fakePinger{}, ProbeOptions{Interval: 40 * time.Millisecond, MaxDelay: 100 * time.Millisecond}, loggy.NewNoopLogger())
	b := s.newBackOff()
	for i := 0; i < 20; i++ {
		d := b.NextBackOff()
		assert.Positive(t, d)
		// randomization can push one step past the cap by at most the factor
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestParseStatus(t *testing.T) {
	for _, raw := range []string{"online", " ONLINE\n", "1", "true", "up"} {
		assert.True(t, ParseStatus(raw), raw)
	}
	for _, raw := range []string{"offline", "", "0", "maybe"} {
		assert.False(t, ParseStatus(raw), raw)
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "network.status")
	s := NewFileSource(path, loggy.NewNoopLogger())

	assert.False(t, s.Online(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("online\n"), 0o644))
	for {
		ev := nextEvent(t, ch)
		if ev.Online {
			break
		}
	}
	assert.True(t, s.Online(context.Background()))

	require.NoError(t, os.Remove(path))
	for {
		ev := nextEvent(t, ch)
		if !ev.Online {
			break
		}
	}
}

func TestFileSourceMissingDir(t *testing.T) {
	s := NewFileSource(filepath.Join(t.TempDir(), "nope", "network.status"), loggy.NewNoopLogger())
	_, err := s.Watch(context.Background())
	assert.Error(t, err)
}
