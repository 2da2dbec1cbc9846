package mqtt_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mqttgo/mqttcore/internal/buffer"
	mqtt "github.com/mqttgo/mqttcore"
	"github.com/mqttgo/mqttcore/packet"
	"github.com/mqttgo/mqttcore/props"
	"github.com/mqttgo/mqttcore/retry"
)

// fakeBroker is a scripted, single-connection MQTT peer used to exercise
// the session core end to end without a real broker. Its read loop mirrors
// the transport's stream framer (decode until incomplete, compact, read
// more), reimplemented broker-side since transport.Dialer only dials and
// has no accept-side counterpart.
type fakeBroker struct {
	t  *testing.T
	ln net.Listener
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return &fakeBroker{t: t, ln: ln}
}

func (b *fakeBroker) endpoint() string { return "tcp://" + b.ln.Addr().String() }

func (b *fakeBroker) accept() *brokerConn {
	b.t.Helper()
	conn, err := b.ln.Accept()
	require.NoError(b.t, err)
	b.t.Cleanup(func() { _ = conn.Close() })
	return &brokerConn{t: b.t, conn: conn, buf: buffer.New()}
}

type brokerConn struct {
	t    *testing.T
	conn net.Conn
	buf  *buffer.Buffer
}

// next reads the next complete packet, blocking on the socket as needed.
func (c *brokerConn) next(version byte) packet.Packet {
	c.t.Helper()
	chunk := make([]byte, 4096)
	for {
		p, err := packet.Decode(version, c.buf)
		if err == nil {
			return p
		}
		if !errors.Is(err, packet.ErrIncompletePacket) {
			require.NoError(c.t, err)
		}
		if c.buf.Pos() > 0 {
			remaining := append([]byte(nil), c.buf.Bytes()[c.buf.Pos():]...)
			c.buf = buffer.NewFrom(remaining)
		}
		require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		n, err := c.conn.Read(chunk)
		require.NoError(c.t, err)
		_, _ = c.buf.Write(chunk[:n])
	}
}

func (c *brokerConn) send(version byte, p packet.Packet) {
	c.t.Helper()
	buf := buffer.New()
	require.NoError(c.t, p.Encode(version, buf))
	_, err := c.conn.Write(buf.Bytes())
	require.NoError(c.t, err)
}

func (c *brokerConn) expectConnect(version byte) *packet.Connect {
	c.t.Helper()
	p := c.next(version)
	connect, ok := p.(*packet.Connect)
	require.True(c.t, ok, "expected CONNECT, got %T", p)
	return connect
}

func TestOpen_V5QoS2PublishRoundTrip(t *testing.T) {
	broker := newFakeBroker(t)
	done := make(chan struct{})
	var recordedID uint16

	go func() {
		defer close(done)
		conn := broker.accept()
		conn.expectConnect(packet.Version5)
		conn.send(packet.Version5, &packet.Connack{ReasonCode: packet.CodeSuccess.Code, Props: &props.List{}})

		p := conn.next(packet.Version5)
		pub, ok := p.(*packet.Publish)
		require.True(t, ok, "expected PUBLISH, got %T", p)
		require.Equal(t, "telemetry/temp", pub.Topic)
		recordedID = pub.PacketID
		conn.send(packet.Version5, &packet.PubAck{Kind: packet.TypePubrec, PacketID: recordedID, ReasonCode: packet.CodeSuccess.Code, Props: &props.List{}})

		p = conn.next(packet.Version5)
		rel, ok := p.(*packet.PubAck)
		require.True(t, ok)
		require.Equal(t, packet.TypePubrel, rel.Kind)
		require.Equal(t, recordedID, rel.PacketID)
		conn.send(packet.Version5, &packet.PubAck{Kind: packet.TypePubcomp, PacketID: recordedID, ReasonCode: packet.CodeSuccess.Code, Props: &props.List{}})
	}()

	session := mqtt.New(mqtt.Endpoint(broker.endpoint()), mqtt.ProtocolVersion(packet.Version5), mqtt.PingEnabled(false))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, session.Open(ctx, true))
	defer session.Close(context.Background(), packet.CodeNormalDisconnection.Code)

	ack, err := session.Publish(ctx, mqtt.Message{Topic: "telemetry/temp", Payload: []byte("21.5"), QoS: mqtt.ExactlyOnce})
	require.NoError(t, err)
	require.Equal(t, packet.CodeSuccess.Code, ack.ReasonCode)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broker goroutine did not finish")
	}
}

func TestInboundQoS2_DuplicateBeforePubrelDeliversOnce(t *testing.T) {
	broker := newFakeBroker(t)
	done := make(chan struct{})

	go func() {
		defer close(done)
		conn := broker.accept()
		conn.expectConnect(packet.Version311)
		conn.send(packet.Version311, &packet.Connack{ReturnCode: packet.Code3Accepted.Code, Props: &props.List{}})

		pub := &packet.Publish{QoS: 2, Topic: "a/b", PacketID: 7, Payload: []byte("one")}
		conn.send(packet.Version311, pub)
		p := conn.next(packet.Version311)
		rec, ok := p.(*packet.PubAck)
		require.True(t, ok)
		require.Equal(t, packet.TypePubrec, rec.Kind)

		// Duplicate PUBLISH for the same id before PUBREL: must not re-queue
		// a second delivery.
		dup := *pub
		dup.Dup = true
		conn.send(packet.Version311, &dup)
		p = conn.next(packet.Version311)
		rec, ok = p.(*packet.PubAck)
		require.True(t, ok)
		require.Equal(t, packet.TypePubrec, rec.Kind)

		conn.send(packet.Version311, &packet.PubAck{Kind: packet.TypePubrel, PacketID: 7})
		p = conn.next(packet.Version311)
		comp, ok := p.(*packet.PubAck)
		require.True(t, ok)
		require.Equal(t, packet.TypePubcomp, comp.Kind)
	}()

	var delivered int
	session := mqtt.New(mqtt.Endpoint(broker.endpoint()), mqtt.PingEnabled(false))
	session.Observe(mqtt.Observer{OnMessage: func(msg mqtt.Message) { delivered++ }})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, session.Open(ctx, true))
	defer session.Close(context.Background(), 0)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broker goroutine did not finish")
	}
	require.Equal(t, 1, delivered)
}

func TestReconnect_ResumesInflightAfterTransportDrop(t *testing.T) {
	broker := newFakeBroker(t)
	var publishID uint16
	firstDone := make(chan struct{})

	go func() {
		defer close(firstDone)
		conn := broker.accept()
		conn.expectConnect(packet.Version311)
		conn.send(packet.Version311, &packet.Connack{ReturnCode: packet.Code3Accepted.Code, Props: &props.List{}})
		p := conn.next(packet.Version311)
		pub := p.(*packet.Publish)
		publishID = pub.PacketID
		conn.conn.Close() // drop before acking: simulates a transport failure mid-flow
	}()

	session := mqtt.New(
		mqtt.Endpoint(broker.endpoint()),
		mqtt.PingEnabled(false),
		mqtt.WithRetrier(retry.New(retry.Linear{Scale: 10 * time.Millisecond}, 5, nil)),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, session.Open(ctx, true))

	pubCtx, pubCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer pubCancel()
	ackCh := make(chan *packet.PubAck, 1)
	errCh := make(chan error, 1)
	go func() {
		ack, err := session.Publish(pubCtx, mqtt.Message{Topic: "x", Payload: []byte("y"), QoS: mqtt.AtLeastOnce})
		if err != nil {
			errCh <- err
			return
		}
		ackCh <- ack
	}()

	select {
	case <-firstDone:
	case <-time.After(5 * time.Second):
		t.Fatal("initial broker exchange did not complete")
	}

	conn := broker.accept()
	connect := conn.expectConnect(packet.Version311)
	require.False(t, connect.CleanStart, "reconnect must not request a clean session")
	conn.send(packet.Version311, &packet.Connack{ReturnCode: packet.Code3Accepted.Code, SessionPresent: true, Props: &props.List{}})

	p := conn.next(packet.Version311)
	resent, ok := p.(*packet.Publish)
	require.True(t, ok, "expected resent PUBLISH, got %T", p)
	require.True(t, resent.Dup)
	require.Equal(t, publishID, resent.PacketID)
	conn.send(packet.Version311, &packet.PubAck{Kind: packet.TypePuback, PacketID: publishID, Props: &props.List{}})

	select {
	case ack := <-ackCh:
		require.Equal(t, publishID, ack.PacketID)
	case err := <-errCh:
		t.Fatalf("publish failed: %v", err)
	case <-time.After(8 * time.Second):
		t.Fatal("publish did not resolve after reconnect")
	}
	session.Close(context.Background(), 0)
}

func TestPingTimeout_ClosesSession(t *testing.T) {
	broker := newFakeBroker(t)
	go func() {
		conn := broker.accept()
		conn.expectConnect(packet.Version311)
		conn.send(packet.Version311, &packet.Connack{ReturnCode: packet.Code3Accepted.Code, Props: &props.List{}})
		conn.next(packet.Version311) // PINGREQ, never answered
	}()

	session := mqtt.New(
		mqtt.Endpoint(broker.endpoint()),
		mqtt.KeepAlive(100*time.Millisecond),
		mqtt.PingTimeout(100*time.Millisecond),
	)
	statusCh := make(chan mqtt.Status, 4)
	session.Observe(mqtt.Observer{OnStatus: func(_, new mqtt.Status) { statusCh <- new }})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, session.Open(ctx, true))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-statusCh:
			if st == mqtt.StatusClosed {
				return
			}
		case <-deadline:
			t.Fatal("session never closed after a missed PINGRESP")
		}
	}
}

func TestServerDisconnect_ReportsReasonCode(t *testing.T) {
	broker := newFakeBroker(t)
	go func() {
		conn := broker.accept()
		conn.expectConnect(packet.Version5)
		conn.send(packet.Version5, &packet.Connack{ReasonCode: packet.CodeSuccess.Code, Props: &props.List{}})
		conn.send(packet.Version5, &packet.Disconnect{ReasonCode: packet.CodeServerShuttingDown.Code, Props: &props.List{}})
	}()

	session := mqtt.New(mqtt.Endpoint(broker.endpoint()), mqtt.ProtocolVersion(packet.Version5), mqtt.PingEnabled(false))
	errCh := make(chan error, 4)
	session.Observe(mqtt.Observer{OnError: func(err error) { errCh <- err }})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, session.Open(ctx, true))

	select {
	case err := <-errCh:
		var reason mqtt.CloseReason
		require.True(t, errors.As(err, &reason))
		require.Equal(t, mqtt.ReasonServerClose, reason.Kind)
		require.Equal(t, packet.CodeServerShuttingDown.Code, reason.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("server DISCONNECT never surfaced as an error")
	}
}

func TestEnhancedAuth_ContinuesUntilSuccess(t *testing.T) {
	broker := newFakeBroker(t)
	go func() {
		conn := broker.accept()
		conn.expectConnect(packet.Version5)
		authProps := &props.List{}
		authProps.Add(props.AuthenticationMethod, "SCRAM-SHA-1")
		authProps.Add(props.AuthenticationData, []byte("challenge-1"))
		conn.send(packet.Version5, &packet.Auth{ReasonCode: packet.CodeContinueAuthentication.Code, Props: authProps})

		p := conn.next(packet.Version5)
		auth, ok := p.(*packet.Auth)
		require.True(t, ok, "expected AUTH continuation, got %T", p)
		require.Equal(t, packet.CodeContinueAuthentication.Code, auth.ReasonCode)
		conn.send(packet.Version5, &packet.Connack{ReasonCode: packet.CodeSuccess.Code, Props: &props.List{}})
	}()

	authFlow := func(in *packet.Auth) (*packet.Auth, error) {
		return &packet.Auth{ReasonCode: packet.CodeContinueAuthentication.Code, Props: &props.List{}}, nil
	}
	session := mqtt.New(
		mqtt.Endpoint(broker.endpoint()),
		mqtt.ProtocolVersion(packet.Version5),
		mqtt.PingEnabled(false),
		mqtt.WithAuthFlow(authFlow),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, session.Open(ctx, true))
	session.Close(context.Background(), packet.CodeNormalDisconnection.Code)
}
