package lens

import (
	"testing"
)

func TestCell_ReadWrite(t *testing.T) {
	c := NewCell(1)
	if got := c.Read(); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	c.Write(2)
	if got := c.Read(); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestCell_EqualWriteElided(t *testing.T) {
	c := NewCell(1)
	rev := c.Revision()
	c.Write(1)
	if c.Revision() != rev {
		t.Fatalf("expected revision to stay at %d, got %d", rev, c.Revision())
	}
}

func TestComputed_RecomputesOnDependencyChange(t *testing.T) {
	a := NewCell(2)
	b := NewCell(3)
	calls := 0
	sum := NewComputed(func() int {
		calls++
		return a.Read() + b.Read()
	})

	if got := sum.Read(); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if got := sum.Read(); got != 5 || calls != 1 {
		t.Fatalf("expected cached read (1 call), got calls=%d", calls)
	}

	a.Write(10)
	if got := sum.Read(); got != 13 {
		t.Fatalf("expected 13 after dependency change, got %d", got)
	}
	if calls != 2 {
		t.Fatalf("expected exactly one recompute, got %d calls", calls)
	}
}

func TestEffect_RerunsOnDependencyChange(t *testing.T) {
	a := NewCell(1)
	seen := []int{}
	_, dispose := NewEffect(func() {
		seen = append(seen, a.Read())
	})
	defer dispose()

	a.Write(2)
	a.Write(3)

	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Fatalf("expected [1 2 3], got %v", seen)
	}
}

func TestEffect_DisposeStopsReruns(t *testing.T) {
	a := NewCell(1)
	count := 0
	_, dispose := NewEffect(func() {
		a.Read()
		count++
	})
	dispose()

	a.Write(2)
	if count != 1 {
		t.Fatalf("expected effect to run exactly once before disposal, got %d", count)
	}
}

func TestBatch_CollapsesMultipleWritesToOneRun(t *testing.T) {
	a := NewCell(0)
	runs := 0
	_, dispose := NewEffect(func() {
		a.Read()
		runs++
	})
	defer dispose()

	runs = 0
	Batch(func() {
		a.Write(1)
		a.Write(2)
		a.Write(3)
	})

	if runs != 1 {
		t.Fatalf("expected exactly one effect run per batch, got %d", runs)
	}
	if got := a.Read(); got != 3 {
		t.Fatalf("expected final value 3, got %d", got)
	}
}

func TestComputed_CyclicDependencyPanics(t *testing.T) {
	var self *Computed[int]
	self = NewComputed(func() int {
		return self.Read() + 1
	})

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic on cyclic computed read")
		}
		if _, ok := r.(*CyclicDependencyError); !ok {
			t.Fatalf("expected *CyclicDependencyError, got %T: %v", r, r)
		}
	}()

	self.Read()
}

func TestEffect_ErrorDoesNotReArmButRemainsSubscribed(t *testing.T) {
	a := NewCell(0)
	var recovered []any
	_, dispose := NewEffectWithRecover(func() {
		v := a.Read()
		if v == 1 {
			panic("boom")
		}
	}, func(r any) {
		recovered = append(recovered, r)
	})
	defer dispose()

	a.Write(1)
	if len(recovered) != 1 {
		t.Fatalf("expected one recovered panic, got %d", len(recovered))
	}

	// The effect remains subscribed: the next change still re-runs it,
	// and this run does not panic.
	a.Write(2)
	if len(recovered) != 1 {
		t.Fatalf("expected no new panic on a non-panicking run, got %d recoveries", len(recovered))
	}
}
