package keepalive

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingPinger struct {
	calls int32
	err   error
}

func (p *countingPinger) Health(ctx context.Context) (map[string]interface{}, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.err != nil {
		return nil, p.err
	}
	return map[string]interface{}{"status": "ok"}, nil
}

func TestStartPingsUntilCancelled(t *testing.T) {
	p := &countingPinger{err: errors.New("backend asleep")}
	ctx, cancel := context.WithCancel(context.Background())
	Start(ctx, p, 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&p.calls) < 3 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if atomic.LoadInt32(&p.calls) < 3 {
		t.Fatalf("expected repeated pings despite errors, got %d", p.calls)
	}

	cancel()
	time.Sleep(20 * time.Millisecond)
	stopped := atomic.LoadInt32(&p.calls)
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&p.calls); got != stopped {
		t.Fatalf("pings continued after cancel: %d -> %d", stopped, got)
	}
}

func TestStartWaitsOneInterval(t *testing.T) {
	p := &countingPinger{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	Start(ctx, p, time.Hour)
	time.Sleep(20 * time.Millisecond)
	if n := atomic.LoadInt32(&p.calls); n != 0 {
		t.Fatalf("expected no immediate ping, got %d", n)
	}
}
