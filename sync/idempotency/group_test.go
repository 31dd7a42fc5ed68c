package idempotency

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestOnceRemembers(t *testing.T) {
	var g Group[int]
	var calls int32
	fn := func() (int, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	}

	v1, _ := g.Once("tok", fn)
	v2, _ := g.Once("tok", fn)
	if v1 != 1 || v2 != 1 || calls != 1 {
		t.Fatalf("got %d, %d after %d calls; want one call", v1, v2, calls)
	}

	g.Forget("tok")
	if v, _ := g.Once("tok", fn); v != 2 {
		t.Fatalf("after Forget got %d want 2", v)
	}
}

func TestOnceForgetsErrors(t *testing.T) {
	var g Group[string]
	boom := errors.New("boom")

	if _, err := g.Once("k", func() (string, error) { return "", boom }); err != boom {
		t.Fatalf("err = %v want %v", err, boom)
	}
	v, err := g.Once("k", func() (string, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Fatalf("got %q, %v; failed calls should not be remembered", v, err)
	}
}

func TestOnceConcurrent(t *testing.T) {
	var g Group[int]
	var calls int32
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			g.Once("k", func() (int, error) {
				atomic.AddInt32(&calls, 1)
				return 7, nil
			})
		}()
	}
	close(start)
	wg.Wait()

	if calls != 1 {
		t.Errorf("fn ran %d times, want 1", calls)
	}
}
