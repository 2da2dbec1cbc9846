package mqtt

import (
	"sync"

	"github.com/mqttgo/mqttcore/packet"
)

// inflightTable maps a 16-bit packet identifier to the Packet that started
// its QoS >= 1 flow. An entry exists from the moment a PUBLISH (or a
// PUBREL continuation) is first sent until its terminal acknowledgement.
// At most one entry per identifier. Entries hold any Packet, not just
// *packet.Publish, so a QoS 2 flow can replace its PUBLISH entry with the
// PUBREL that continues it.
type inflightTable struct {
	mu      sync.Mutex
	entries map[uint16]packet.Packet
}

func newInflightTable() *inflightTable {
	return &inflightTable{entries: make(map[uint16]packet.Packet)}
}

func (t *inflightTable) put(id uint16, p packet.Packet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = p
}

func (t *inflightTable) get(id uint16) (packet.Packet, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[id]
	return p, ok
}

func (t *inflightTable) remove(id uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

func (t *inflightTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// snapshot returns every inflight entry for resumption after a reconnect.
// Fresh tracking starts after the caller consumes this snapshot and,
// typically, clears or replaces the table.
func (t *inflightTable) snapshot() []packet.Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]packet.Packet, 0, len(t.entries))
	for _, p := range t.entries {
		out = append(out, p)
	}
	return out
}

func (t *inflightTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[uint16]packet.Packet)
}
