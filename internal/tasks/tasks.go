// Package tasks implements the task tables and identifier allocator that
// correlate outbound control packets to the completers awaiting their
// response: the identifier-keyed tables, the three dedicated slots, and
// the displace-without-resolving semantics the session core requires.
package tasks

import (
	"sync"

	"github.com/mqttgo/mqttcore/packet"
)

// Result is what a Completer resolves with: either a Packet or an error.
// Exactly one of the two is set.
type Result struct {
	Packet packet.Packet
	Err    error
}

// Completer is a single-resolution promise. The first call to Resolve
// wins; later calls are no-ops. A done channel can only ever be closed
// once, so "first" is the effective winner, which coincides with "last"
// when resolution is already serialized by the owning table's mutex.
type Completer struct {
	once sync.Once
	done chan struct{}
	res  Result
}

// NewCompleter returns a Completer ready to be stored in a table and waited
// on by a caller.
func NewCompleter() *Completer {
	return &Completer{done: make(chan struct{})}
}

// Resolve completes the Completer with pkt or err (not both meaningfully).
// Safe to call from any goroutine, safe to call more than once.
func (c *Completer) Resolve(pkt packet.Packet, err error) {
	c.once.Do(func() {
		c.res = Result{Packet: pkt, Err: err}
		close(c.done)
	})
}

// Wait blocks until Resolve is called, the passed channel fires (typically
// a timer or context.Done), or done is already closed. wake, when non-nil
// and it fires first, returns (Result{}, false).
func (c *Completer) Wait(wake <-chan struct{}) (Result, bool) {
	select {
	case <-c.done:
		return c.res, true
	case <-wake:
		return Result{}, false
	}
}

// Done reports whether Resolve has already been called.
func (c *Completer) Done() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Chan exposes the completion signal for use alongside other channels in a
// select (timers, ctx.Done()) when a caller needs to react to more than one
// event while waiting. Result is only safe to read once Chan is observed
// closed.
func (c *Completer) Chan() <-chan struct{} { return c.done }

// Result returns the resolved Result. Only meaningful after Chan is closed.
func (c *Completer) Result() Result { return c.res }

// Table is a packet-identifier-keyed completer mapping; the session core
// uses it for the active (client-initiated) flows, and keeps inbound QoS 2
// state in its own table. A new Put for an existing id displaces the old
// entry without resolving it — the broker's next response by construction
// correlates to the newer request (the "duplicate-identifier tie-break").
type Table struct {
	mu      sync.Mutex
	entries map[uint16]*Completer
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{entries: make(map[uint16]*Completer)}
}

// Put installs c under id, discarding (without resolving) whatever
// completer was previously registered there.
func (t *Table) Put(id uint16, c *Completer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = c
}

// Take removes and returns the completer registered under id, if any.
func (t *Table) Take(id uint16) (*Completer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return c, ok
}

// Peek reports whether an entry exists under id without removing it.
func (t *Table) Peek(id uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

// Clear resolves every pending completer with err, exactly once each, and
// empties the table.
func (t *Table) Clear(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[uint16]*Completer)
	t.mu.Unlock()
	for _, c := range entries {
		c.Resolve(nil, err)
	}
}

// Len reports the number of pending entries, for diagnostics and tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Slots holds the three dedicated, identifier-less completer slots: CONNECT
// (CONNACK, and AUTH continueAuthentication packets received during open;
// an AUTH with any other reason code is routed to the AUTH slot only, so it
// does not complete an open), AUTH (used only mid-session
// re-authentication, §4.7), and PING.
type Slots struct {
	mu      sync.Mutex
	connect *Completer
	auth    *Completer
	ping    *Completer
}

// NewSlots returns an empty Slots.
func NewSlots() *Slots { return &Slots{} }

func swap(mu *sync.Mutex, slot **Completer, c *Completer) {
	mu.Lock()
	defer mu.Unlock()
	*slot = c
}

func take(mu *sync.Mutex, slot **Completer) *Completer {
	mu.Lock()
	defer mu.Unlock()
	c := *slot
	*slot = nil
	return c
}

// PutConnect installs the completer awaiting CONNACK/connect-phase AUTH.
func (s *Slots) PutConnect(c *Completer) { swap(&s.mu, &s.connect, c) }

// TakeConnect removes and returns the connect-slot completer, if any.
func (s *Slots) TakeConnect() *Completer { return take(&s.mu, &s.connect) }

// PutAuth installs the completer awaiting a mid-session re-authentication AUTH.
func (s *Slots) PutAuth(c *Completer) { swap(&s.mu, &s.auth, c) }

// TakeAuth removes and returns the auth-slot completer, if any.
func (s *Slots) TakeAuth() *Completer { return take(&s.mu, &s.auth) }

// PutPing installs the completer awaiting PINGRESP.
func (s *Slots) PutPing(c *Completer) { swap(&s.mu, &s.ping, c) }

// TakePing removes and returns the ping-slot completer, if any.
func (s *Slots) TakePing() *Completer { return take(&s.mu, &s.ping) }

// Clear resolves whichever of the three slots are occupied with err.
func (s *Slots) Clear(err error) {
	for _, c := range []*Completer{
		take(&s.mu, &s.connect),
		take(&s.mu, &s.auth),
		take(&s.mu, &s.ping),
	} {
		if c != nil {
			c.Resolve(nil, err)
		}
	}
}

// Allocator hands out 16-bit packet identifiers. It starts at 0,
// increments before each use, and wraps back to 1 after 65535; 0 is
// reserved and never allocated. Shared by the whole session core, guarded
// by its own mutex.
type Allocator struct {
	mu   sync.Mutex
	next uint16
}

// NewAllocator returns an Allocator that issues 1 on its first call.
func NewAllocator() *Allocator {
	return &Allocator{next: 0}
}

// Next returns the next identifier in sequence, wrapping 65535 -> 1.
func (a *Allocator) Next() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	if a.next == 0 {
		a.next = 1
	}
	return a.next
}

// Reset rewinds the allocator so the next call to Next returns 1, used when
// a fresh session (cleanStart) begins.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next = 0
}
