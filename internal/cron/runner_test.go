package cronrunner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunnerRunsJobWithBaseContext(t *testing.T) {
	type ctxKey struct{}
	base := context.WithValue(context.Background(), ctxKey{}, "base")
	r := New(nil, base)

	got := make(chan any, 1)
	if _, err := r.Add("probe", "@every 1s", func(ctx context.Context) {
		select {
		case got <- ctx.Value(ctxKey{}):
		default:
		}
	}); err != nil {
		t.Fatalf("add err=%v", err)
	}
	r.Start()
	defer r.Stop()

	select {
	case v := <-got:
		if v != "base" {
			t.Fatalf("ctx value=%v want=base", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not run")
	}
}

func TestRunnerEmptySpecIsDisabled(t *testing.T) {
	r := New(nil, nil)
	if _, err := r.Add("off", "", func(context.Context) {}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("entries=%d want=0", r.Len())
	}
}

func TestRunnerRejectsBadSpec(t *testing.T) {
	r := New(nil, nil)
	if _, err := r.Add("bad", "not a spec", func(context.Context) {}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunnerSkipsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(nil, ctx)
	var runs atomic.Int32
	if _, err := r.Add("x", "@every 1s", func(context.Context) { runs.Add(1) }); err != nil {
		t.Fatalf("err=%v", err)
	}
	r.Start()
	time.Sleep(1500 * time.Millisecond)
	r.Stop()
	if n := runs.Load(); n != 0 {
		t.Fatalf("runs=%d want=0", n)
	}
}
