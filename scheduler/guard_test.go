package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestTryEnterExit(t *testing.T) {
	l := NewLockTable()

	if !l.TryEnter(LockRefresh) {
		t.Fatalf("first TryEnter must succeed")
	}
	if l.TryEnter(LockRefresh) {
		t.Fatalf("re-entrant TryEnter must fail while held")
	}
	l.Exit(LockRefresh)
	if !l.TryEnter(LockRefresh) {
		t.Fatalf("TryEnter must succeed after Exit")
	}
}

func TestDistinctLocksNeverBlock(t *testing.T) {
	l := NewLockTable()

	if !l.TryEnter(LockRefresh) {
		t.Fatalf("refresh lock unavailable")
	}
	if !l.TryEnter(LockRender) {
		t.Fatalf("render lock must be independent of the refresh lock")
	}
}

func TestExitWithoutEnterIsNoop(t *testing.T) {
	l := NewLockTable()
	l.Exit("never_entered")
	if l.Held("never_entered") {
		t.Fatalf("exit created a held lock")
	}
}

func TestOnlyOneWinnerUnderContention(t *testing.T) {
	l := NewLockTable()
	var winners int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryEnter(LockRefresh) {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly 1 winner, got %d", winners)
	}
}
