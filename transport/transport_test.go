package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mqttgo/mqttcore/internal/buffer"
	"github.com/mqttgo/mqttcore/packet"
)

// recordingDelegate collects every event a Transport emits, for asserting
// on framing behavior without a real broker.
type recordingDelegate struct {
	mu      sync.Mutex
	packets []packet.Packet
	errs    []error
	states  []State
	bytes   int
}

func (d *recordingDelegate) OnPacket(p packet.Packet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.packets = append(d.packets, p)
}

func (d *recordingDelegate) OnError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, err)
}

func (d *recordingDelegate) OnState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = append(d.states, s)
}

func (d *recordingDelegate) OnBytes(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bytes += n
}

func (d *recordingDelegate) packetCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.packets)
}

func (d *recordingDelegate) errCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.errs)
}

func encodeFrame(t *testing.T, version byte, p packet.Packet) []byte {
	t.Helper()
	buf := buffer.New()
	if err := p.Encode(version, buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStreamReassemblesSplitFrame(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tp := newStreamTransport(KindTCP, client)
	d := &recordingDelegate{}
	tp.Start(context.Background(), packet.Version311, d)
	defer tp.Cancel()

	frame := encodeFrame(t, packet.Version311, &packet.Publish{
		QoS: 1, Topic: "a/b", PacketID: 9, Payload: []byte("payload"),
	})

	// Deliver the frame in three fragments: the reader must not emit a
	// packet until the last one lands.
	for _, chunk := range [][]byte{frame[:1], frame[1:4], frame[4:]} {
		if _, err := server.Write(chunk); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	waitFor(t, func() bool { return d.packetCount() == 1 }, "one decoded packet")
	pub, ok := d.packets[0].(*packet.Publish)
	if !ok || pub.PacketID != 9 || string(pub.Payload) != "payload" {
		t.Fatalf("decoded %#v", d.packets[0])
	}
	if d.bytes != len(frame) {
		t.Fatalf("OnBytes counted %d, want %d", d.bytes, len(frame))
	}
}

func TestStreamDeliversPipelinedFrames(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tp := newStreamTransport(KindTCP, client)
	d := &recordingDelegate{}
	tp.Start(context.Background(), packet.Version311, d)
	defer tp.Cancel()

	// Two complete frames in a single write: both must come out.
	batch := append(
		encodeFrame(t, packet.Version311, &packet.Pingresp{}),
		encodeFrame(t, packet.Version311, &packet.PubAck{Kind: packet.TypePuback, PacketID: 3})...,
	)
	if _, err := server.Write(batch); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return d.packetCount() == 2 }, "two decoded packets")
	if _, ok := d.packets[0].(*packet.Pingresp); !ok {
		t.Fatalf("first packet = %#v", d.packets[0])
	}
	if ack, ok := d.packets[1].(*packet.PubAck); !ok || ack.PacketID != 3 {
		t.Fatalf("second packet = %#v", d.packets[1])
	}
}

func TestStreamPeerCloseReportsError(t *testing.T) {
	client, server := net.Pipe()

	tp := newStreamTransport(KindTCP, client)
	d := &recordingDelegate{}
	tp.Start(context.Background(), packet.Version311, d)
	defer tp.Cancel()

	server.Close()
	waitFor(t, func() bool { return d.errCount() == 1 }, "peer close surfaced")
}

func TestSendFailureDebounced(t *testing.T) {
	client, server := net.Pipe()
	server.Close()

	tp := newStreamTransport(KindTCP, client)
	d := &recordingDelegate{}
	tp.delegate = d

	if err := tp.Send([]byte{0xC0, 0x00}); err == nil {
		t.Fatal("Send on a closed pipe succeeded")
	}
	if err := tp.Send([]byte{0xC0, 0x00}); err == nil {
		t.Fatal("second Send on a closed pipe succeeded")
	}
	// Identical failures inside the debounce window collapse to one
	// delegate notification.
	if got := d.errCount(); got != 1 {
		t.Fatalf("delegate saw %d errors, want 1", got)
	}
}

func TestDialUnsupportedScheme(t *testing.T) {
	if _, err := (Dialer{}).Dial(context.Background(), "gopher://x:70"); err == nil {
		t.Fatal("unsupported scheme accepted")
	}
}
