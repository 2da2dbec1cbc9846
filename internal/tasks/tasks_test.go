package tasks

import (
	"errors"
	"testing"
)

func TestTableDisplaceDoesNotResolve(t *testing.T) {
	tbl := NewTable()
	first := NewCompleter()
	second := NewCompleter()

	tbl.Put(5, first)
	tbl.Put(5, second) // displaces first without resolving it

	if first.Done() {
		t.Fatalf("displaced completer must not be resolved")
	}
	got, ok := tbl.Take(5)
	if !ok || got != second {
		t.Fatalf("Take(5) = %v, %v, want second, true", got, ok)
	}
	if _, ok := tbl.Take(5); ok {
		t.Fatalf("second Take(5) should find nothing")
	}
}

func TestTableClearResolvesEveryEntryOnce(t *testing.T) {
	tbl := NewTable()
	completers := make([]*Completer, 0, 4)
	for id := uint16(1); id <= 4; id++ {
		c := NewCompleter()
		completers = append(completers, c)
		tbl.Put(id, c)
	}
	wantErr := errors.New("boom")
	tbl.Clear(wantErr)
	if tbl.Len() != 0 {
		t.Fatalf("table not emptied after Clear")
	}
	for _, c := range completers {
		if !c.Done() {
			t.Fatalf("completer not resolved by Clear")
		}
		res, ok := c.Wait(nil)
		if !ok || res.Err != wantErr {
			t.Fatalf("completer resolved with %v, %v, want %v, true", res.Err, ok, wantErr)
		}
	}
}

func TestSlotsRoundTrip(t *testing.T) {
	s := NewSlots()
	c := NewCompleter()
	s.PutConnect(c)
	got := s.TakeConnect()
	if got != c {
		t.Fatalf("TakeConnect() = %v, want %v", got, c)
	}
	if s.TakeConnect() != nil {
		t.Fatalf("second TakeConnect() should be nil")
	}
}

func TestSlotsClearResolvesOccupiedOnly(t *testing.T) {
	s := NewSlots()
	ping := NewCompleter()
	s.PutPing(ping)
	wantErr := errors.New("closed")
	s.Clear(wantErr)
	if !ping.Done() {
		t.Fatalf("ping completer should be resolved by Clear")
	}
	res, _ := ping.Wait(nil)
	if res.Err != wantErr {
		t.Fatalf("ping resolved with %v, want %v", res.Err, wantErr)
	}
}

func TestAllocatorWrapsSkippingZero(t *testing.T) {
	a := &Allocator{next: 65535}
	if got := a.Next(); got != 1 {
		t.Fatalf("Next() after wraparound = %d, want 1", got)
	}
}

func TestAllocatorSequential(t *testing.T) {
	a := NewAllocator()
	for want := uint16(1); want <= 10; want++ {
		if got := a.Next(); got != want {
			t.Fatalf("Next() = %d, want %d", got, want)
		}
	}
}

func TestAllocatorReset(t *testing.T) {
	a := NewAllocator()
	a.Next()
	a.Next()
	a.Reset()
	if got := a.Next(); got != 1 {
		t.Fatalf("Next() after Reset() = %d, want 1", got)
	}
}
