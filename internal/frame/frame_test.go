package frame

import (
	"sync"
	"testing"
)

func TestGetReturnsOwnedFrame(t *testing.T) {
	p := NewPool()
	f := p.Get(Format{Width: 4, Height: 2})

	if f.RefCount() != 1 {
		t.Errorf("RefCount() = %d, want 1", f.RefCount())
	}
	if len(f.Data()) != 8 {
		t.Errorf("len(Data()) = %d, want 8", len(f.Data()))
	}
	if p.Live() != 1 {
		t.Errorf("Live() = %d, want 1", p.Live())
	}
}

func TestReleaseRecyclesBuffer(t *testing.T) {
	p := NewPool()
	f := p.Get(Format{Width: 4, Height: 4})
	f.Data()[0] = 0xff
	f.SetSeq(7)

	f.Retain()
	f.Release()
	if p.Live() != 1 {
		t.Fatalf("Live() = %d after balanced retain/release, want 1", p.Live())
	}

	f.Release()
	if p.Live() != 0 {
		t.Fatalf("Live() = %d after final release, want 0", p.Live())
	}

	g := p.Get(Format{Width: 4, Height: 4})
	if g != f {
		t.Error("expected the released frame to be reused")
	}
	if g.Data()[0] != 0 || g.Seq() != 0 {
		t.Error("reused frame was not reset")
	}
}

func TestReleasePastZeroPanics(t *testing.T) {
	p := NewPool()
	f := p.Get(Format{Width: 1, Height: 1})
	f.Release()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on double release")
		}
	}()
	f.Release()
}

func TestConcurrentRetainRelease(t *testing.T) {
	p := NewPool()
	f := p.Get(Format{Width: 2, Height: 2})

	var wg sync.WaitGroup
	for range 16 {
		f.Retain()
		wg.Go(func() {
			f.Release()
		})
	}
	wg.Wait()

	if f.RefCount() != 1 {
		t.Fatalf("RefCount() = %d, want 1", f.RefCount())
	}
	f.Release()
	if p.Live() != 0 {
		t.Errorf("Live() = %d, want 0", p.Live())
	}
}
