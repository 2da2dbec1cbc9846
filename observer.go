package mqtt

import "sync"

// Observer receives the notifications a Session emits: status transitions,
// inbound messages, and asynchronous errors. Any method may be left nil;
// nil methods are simply skipped.
type Observer struct {
	OnStatus  func(old, new Status)
	OnMessage func(msg Message)
	OnError   func(err error)
}

// observers is the broadcast registry a Session dispatches notifications
// to: N observers, three notification kinds, per-observer FIFO order.
type observers struct {
	mu   sync.Mutex
	next int
	subs map[int]Observer
}

func newObservers() *observers {
	return &observers{subs: make(map[int]Observer)}
}

// Add registers an Observer and returns a token for Remove.
func (o *observers) Add(obs Observer) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.next
	o.next++
	o.subs[id] = obs
	return id
}

// Remove unregisters a previously added Observer. A no-op if token is
// unknown.
func (o *observers) Remove(token int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.subs, token)
}

func (o *observers) snapshot() []Observer {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Observer, 0, len(o.subs))
	for _, s := range o.subs {
		out = append(out, s)
	}
	return out
}

func (o *observers) emitStatus(old, new Status) {
	for _, s := range o.snapshot() {
		if s.OnStatus != nil {
			s.OnStatus(old, new)
		}
	}
}

func (o *observers) emitMessage(msg Message) {
	for _, s := range o.snapshot() {
		if s.OnMessage != nil {
			s.OnMessage(msg)
		}
	}
}

func (o *observers) emitError(err error) {
	for _, s := range o.snapshot() {
		if s.OnError != nil {
			s.OnError(err)
		}
	}
}
