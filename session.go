package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mqttgo/mqttcore/internal/buffer"
	"github.com/mqttgo/mqttcore/internal/tasks"
	"github.com/mqttgo/mqttcore/packet"
	"github.com/mqttgo/mqttcore/props"
	"github.com/mqttgo/mqttcore/reachability"
	"github.com/mqttgo/mqttcore/transport"
)

// Session is the client-side connection lifecycle state machine: Open
// dials, performs the CONNECT/CONNACK handshake (including the optional
// MQTT 5.0 enhanced-authentication loop), and on success starts the
// keep-alive pinger and resumes any inflight QoS >= 1 work. Close tears
// everything down. A Session that loses its transport auto-reconnects
// through the configured retry.Retrier, rebuilding its CONNECT with
// cleanSession=false and the will cleared.
type Session struct {
	cfg config

	mu     sync.Mutex
	status Status
	conn   *transport.Transport
	params ConnectParams

	active  *tasks.Table // keyed by packet id: outbound SUBSCRIBE/UNSUBSCRIBE/PUBLISH(QoS1/2)
	slots   *tasks.Slots
	alloc   *tasks.Allocator
	infl    *inflightTable
	inbound *inboundQoS2

	ping *pinger
	obs  *observers
	pool *ants.Pool

	reconnectCancel context.CancelFunc
	reconnectWG     sync.WaitGroup
}

// New constructs a Session. Call Open to connect.
func New(opts ...Option) *Session {
	cfg := newConfig(opts...)
	s := &Session{
		cfg:     cfg,
		status:  StatusClosed,
		active:  tasks.NewTable(),
		slots:   tasks.NewSlots(),
		alloc:   tasks.NewAllocator(),
		infl:    newInflightTable(),
		inbound: newInboundQoS2(),
		obs:     newObservers(),
	}
	pool, err := ants.NewPool(32, ants.WithNonblocking(false))
	if err == nil {
		s.pool = pool
	}
	s.ping = newPinger(cfg.keepAlive, cfg.pingTimeout, s.sendPingreq, s.failPing)
	if cfg.monitor != nil {
		cfg.monitor.OnChange(s.onReachabilityChange)
	}
	return s
}

// Observe registers an Observer and returns a token for Unobserve.
func (s *Session) Observe(o Observer) int { return s.obs.Add(o) }

// Unobserve removes a previously registered Observer.
func (s *Session) Unobserve(token int) { s.obs.Remove(token) }

// Status reports the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ConnectParams reports the parameters negotiated on the last successful
// CONNACK.
func (s *Session) ConnectParams() ConnectParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// SetKeepAlive changes the keep-alive interval at runtime. The new value
// takes effect on the pinger's next cycle and on the next CONNECT built
// for a reconnect.
func (s *Session) SetKeepAlive(d time.Duration) {
	s.mu.Lock()
	s.cfg.keepAlive = d
	s.mu.Unlock()
	s.ping.SetInterval(d)
}

func (s *Session) setStatus(new Status) {
	s.mu.Lock()
	old := s.status
	s.status = new
	s.mu.Unlock()
	if old != new {
		s.obs.emitStatus(old, new)
	}
}

// Open dials the configured endpoint, performs the CONNECT handshake, and
// on success starts the keep-alive pinger. cleanStart forces a fresh
// session; a reconnect triggered internally always requests
// session continuation and clears any configured will.
func (s *Session) Open(ctx context.Context, cleanStart bool) error {
	return s.open(ctx, cleanStart, false)
}

func (s *Session) open(ctx context.Context, cleanStart, reconnect bool) error {
	s.mu.Lock()
	if s.status == StatusOpened || s.status == StatusOpening {
		s.mu.Unlock()
		return ErrAlreadyOpened
	}
	s.status = StatusOpening
	s.mu.Unlock()
	s.obs.emitStatus(StatusClosed, StatusOpening)

	dialer := transport.Dialer{TLSConfig: s.cfg.tlsConfig, ConnectTimeout: s.cfg.connectTimeout}
	if s.cfg.pingEnabled {
		// QUIC enforces its own idle timeout; stretch it to 1.5x the ping
		// cadence so an idle-but-pinging session is not torn down.
		dialer.QUICIdleTimeout = s.cfg.keepAlive * 3 / 2
	}
	// connectTimeout bounds the whole open attempt: dial plus the
	// CONNECT/CONNACK (and any AUTH continuation) exchange.
	openCtx, cancel := context.WithTimeout(ctx, s.cfg.connectTimeout)
	defer cancel()
	tp, err := dialer.Dial(openCtx, s.cfg.endpoint)
	if err != nil {
		s.setStatus(StatusClosed)
		return fmt.Errorf("mqtt: dial: %w", err)
	}

	s.mu.Lock()
	s.conn = tp
	s.mu.Unlock()
	// The transport's read-loop lifetime is owned exclusively by the
	// session via Transport.Cancel, not by whatever ctx the caller passed
	// to Open: a later Open/reconnect call must not be able to tear down
	// a connection it no longer has a handle to.
	tp.Start(context.Background(), s.cfg.version, s)

	if cleanStart {
		s.alloc.Reset()
		s.infl.clear()
	}

	if err := s.handshake(openCtx, cleanStart, reconnect); err != nil {
		tp.Cancel()
		s.setStatus(StatusClosed)
		return err
	}

	s.setStatus(StatusOpened)
	if s.cfg.retrier != nil {
		s.cfg.retrier.Reset()
	}
	if s.cfg.metrics != nil {
		s.cfg.metrics.Connects.Inc()
		s.cfg.metrics.ActiveConnections.Set(1)
	}
	if s.cfg.pingEnabled {
		s.ping.Start()
	}
	s.resumeInflight()
	return nil
}

// handshake sends CONNECT and waits for CONNACK, looping through any
// number of AUTH continuations the broker requests (MQTT 5.0 enhanced
// authentication). A reconnect's CONNECT omits the will so
// the broker does not publish it again on every subsequent drop.
func (s *Session) handshake(ctx context.Context, cleanStart, reconnect bool) error {
	connect := &packet.Connect{
		CleanStart: cleanStart,
		KeepAlive:  uint16(s.cfg.keepAlive / time.Second),
		ClientID:   s.cfg.identity.ClientID,
	}
	if s.cfg.identity.Username != "" {
		connect.HasUsername = true
		connect.Username = s.cfg.identity.Username
	}
	if s.cfg.identity.Password != nil {
		connect.HasPassword = true
		connect.Password = s.cfg.identity.Password
	}
	if s.cfg.will != nil && !reconnect {
		connect.WillTopic = s.cfg.will.Topic
		connect.WillPayload = s.cfg.will.Payload
		connect.WillQoS = byte(s.cfg.will.QoS)
		connect.WillRetain = s.cfg.will.Retain
		connect.WillProps = s.cfg.will.Props
	}

	completer := tasks.NewCompleter()
	s.slots.PutConnect(completer)
	if err := s.send(connect); err != nil {
		return err
	}

	for {
		result, ok := completer.Wait(ctx.Done())
		if !ok {
			return ErrTimeout
		}
		if result.Err != nil {
			return result.Err
		}
		switch p := result.Packet.(type) {
		case *packet.Connack:
			return s.handleConnack(p)
		case *packet.Auth:
			if s.cfg.authFlow == nil {
				return ErrAuthflowRequired
			}
			reply, err := s.cfg.authFlow(p)
			if err != nil {
				return err
			}
			completer = tasks.NewCompleter()
			s.slots.PutConnect(completer)
			if err := s.send(reply); err != nil {
				return err
			}
		default:
			return ErrUnexpectPacket
		}
	}
}

func (s *Session) handleConnack(p *packet.Connack) error {
	code := p.ReturnCode
	if s.cfg.version == packet.Version5 {
		code = p.ReasonCode
	}
	if (s.cfg.version == packet.Version5 && code > 0x7F) || (s.cfg.version != packet.Version5 && code != 0) {
		return connectFailed(code, "connect refused")
	}

	params := DefaultConnectParams()
	if id, ok := p.Props.Get(props.AssignedClientIdentifier); ok {
		s.cfg.identity.ClientID = id.(string)
	}
	if v, ok := p.Props.Get(props.ServerKeepAlive); ok {
		params.ServerKeepAlive = v.(uint16)
		s.cfg.keepAlive = time.Duration(params.ServerKeepAlive) * time.Second
		s.ping.SetInterval(s.cfg.keepAlive)
	}
	if v, ok := p.Props.Get(props.MaximumQoS); ok {
		params.MaxQoS = QoS(v.(byte))
	}
	if v, ok := p.Props.Get(props.MaximumPacketSize); ok {
		params.MaxPacketSize = v.(uint32)
	}
	if v, ok := p.Props.Get(props.RetainAvailable); ok {
		params.RetainAvailable = v.(byte) != 0
	}
	if v, ok := p.Props.Get(props.TopicAliasMaximum); ok {
		params.MaxTopicAlias = v.(uint16)
	}
	s.mu.Lock()
	s.params = params
	s.mu.Unlock()

	if !p.SessionPresent {
		s.infl.clear()
		s.active.Clear(ErrUnconnected)
		s.inbound.clear()
		s.reportInflightSize()
	}
	return nil
}

// resumeInflight resends every still-pending QoS >= 1 publish/PUBREL after
// a reconnect with sessionPresent=true. Anything else found in the table
// (should not occur) is dropped rather than resent.
func (s *Session) resumeInflight() {
	for _, p := range s.infl.snapshot() {
		switch pkt := p.(type) {
		case *packet.Publish:
			dup := *pkt
			dup.Dup = true
			if err := s.send(&dup); err != nil {
				s.cfg.log.Warnf("resume publish id=%d: %v", pkt.PacketID, err)
			}
		case *packet.PubAck:
			if pkt.Kind != packet.TypePubrel {
				continue
			}
			if err := s.send(pkt); err != nil {
				s.cfg.log.Warnf("resume pubrel id=%d: %v", pkt.PacketID, err)
			}
		}
	}
}

// Close ends the session cleanly, sending DISCONNECT with the given v5
// reason code (ignored on v3.1.1) before tearing down the transport.
// The retrier does not schedule a reconnect after an explicit Close; a
// reachability monitor's unsatisfied-to-satisfied transition still reopens
// a closed session.
func (s *Session) Close(ctx context.Context, reasonCode byte) error {
	s.mu.Lock()
	if s.status == StatusClosed || s.status == StatusClosing {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	old := s.status
	s.status = StatusClosing
	conn := s.conn
	s.mu.Unlock()
	s.obs.emitStatus(old, StatusClosing)

	s.ping.Stop()
	s.stopReconnectLoop()

	if conn != nil {
		// From opening the session closes immediately without a DISCONNECT;
		// the handshake has not completed, so there is nothing to end
		// cleanly.
		if old == StatusOpened {
			_ = s.send(&packet.Disconnect{ReasonCode: reasonCode})
		}
		conn.Cancel()
	}
	s.teardown(CloseReason{Kind: ReasonClientClose, Code: reasonCode})
	return nil
}

// teardown clears every table and moves the session to StatusClosed,
// recording reason for observers. Used only by the explicit local Close
// path, which never retries, so every table (including inflight) is wiped
// unconditionally.
func (s *Session) teardown(reason CloseReason) {
	s.ping.Stop()
	s.clearTables(reason)
	s.setStatus(StatusClosed)
	if s.cfg.metrics != nil {
		s.cfg.metrics.Disconnects.Inc()
		s.cfg.metrics.ActiveConnections.Set(0)
	}
	s.obs.emitError(reason)
}

// clearTables resolves every pending completer in the active task table and
// the three dedicated slots with reason, and wipes the inflight and inbound
// QoS2 tables. The two Clear calls are independent, so they fan out over
// an errgroup rather than running one after another.
func (s *Session) clearTables(reason CloseReason) {
	var g errgroup.Group
	g.Go(func() error { s.active.Clear(reason); return nil })
	g.Go(func() error { s.slots.Clear(reason); return nil })
	_ = g.Wait()
	s.infl.clear()
	s.inbound.clear()
	if s.cfg.metrics != nil {
		s.cfg.metrics.InflightSize.Set(0)
	}
}

// closeFrom is the single entry point for every non-local close: a remote
// DISCONNECT, a transport error, or a ping timeout. It is idempotent; a
// session already closed ignores further calls.
//
// Whether the active task table is cleared here depends on whether a
// reconnect is about to be scheduled. If one is, a QoS >= 1
// publish/subscribe caller's completer is left registered so that, once the
// broker resumes the session (sessionPresent=true) and resumeInflight
// resends the original PUBLISH/PUBREL under the same packet id, the
// eventual PUBACK/PUBCOMP still resolves the original caller. Only a
// terminal close, with no retry coming, clears everything.
func (s *Session) closeFrom(reason CloseReason) {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return
	}
	old := s.status
	s.status = StatusClosed
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.ping.Stop()
	if conn != nil {
		conn.Cancel()
	}
	s.obs.emitStatus(old, StatusClosed)
	if s.cfg.metrics != nil {
		s.cfg.metrics.Disconnects.Inc()
		s.cfg.metrics.ActiveConnections.Set(0)
	}

	delay, retry := s.nextRetryDelay(reason)
	if retry {
		s.slots.Clear(reason) // connection-scoped; never resumed
	} else {
		s.clearTables(reason)
	}
	s.obs.emitError(reason)

	if retry {
		s.cfg.log.Infof("scheduling reconnect in %s: %v", delay, reason)
		s.scheduleReconnect(delay)
	}
}

// nextRetryDelay consults the configured retrier and reachability monitor:
// no retrier means never retry; a monitor reporting Unsatisfied suppresses
// retry regardless of the retrier's own filter.
func (s *Session) nextRetryDelay(reason CloseReason) (time.Duration, bool) {
	if s.cfg.retrier == nil {
		return 0, false
	}
	if s.cfg.monitor != nil && s.cfg.monitor.Current() == reachability.Unsatisfied {
		return 0, false
	}
	d, ok := s.cfg.retrier.Delay(reason)
	if ok && s.cfg.metrics != nil {
		s.cfg.metrics.ReconnectAttempts.Inc()
	}
	return d, ok
}

// scheduleReconnect waits delay, then reopens with cleanStart=false and
// the will cleared.
func (s *Session) scheduleReconnect(delay time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.reconnectCancel = cancel
	s.mu.Unlock()
	s.reconnectWG.Add(1)
	go func() {
		defer s.reconnectWG.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := s.open(ctx, false, true); err != nil {
			s.cfg.log.Warnf("reconnect attempt failed: %v", err)
			if ctx.Err() != nil || errors.Is(err, ErrAlreadyOpened) {
				return
			}
			// A failed attempt counts against the retrier's limit like any
			// other close; keep going until it or the filter says stop.
			if next, ok := s.nextRetryDelay(toCloseReason(err)); ok {
				s.scheduleReconnect(next)
			}
		}
	}()
}

// stopReconnectLoop cancels any scheduled reconnect and waits for its
// goroutine to exit. Safe to call when no reconnect is pending.
func (s *Session) stopReconnectLoop() {
	s.mu.Lock()
	cancel := s.reconnectCancel
	s.reconnectCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.reconnectWG.Wait()
}

// triggerImmediateReconnect cancels any pending scheduled reconnect and
// starts one immediately, for a network that just became reachable again.
func (s *Session) triggerImmediateReconnect() {
	s.stopReconnectLoop()
	s.scheduleReconnect(0)
}

// send encodes p and writes it to the transport, updating keep-alive
// activity and byte/packet metrics.
func (s *Session) send(p packet.Packet) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrUnconnected
	}
	buf := buffer.New()
	if err := p.Encode(s.cfg.version, buf); err != nil {
		return newPacketError(fmt.Sprintf("encode %s", packet.TypeName(p.Type())))
	}
	frame := buf.Bytes()
	if err := conn.Send(frame); err != nil {
		return err
	}
	s.ping.noteActivity()
	if s.cfg.metrics != nil {
		s.cfg.metrics.PacketsSent.Inc()
		s.cfg.metrics.BytesSent.Add(float64(len(frame)))
	}
	s.cfg.log.Debugf("sent %s", packet.TypeName(p.Type()))
	return nil
}

func (s *Session) sendPingreq() error {
	completer := tasks.NewCompleter()
	s.slots.PutPing(completer)
	return s.send(&packet.Pingreq{})
}

func (s *Session) failPing(err error) {
	s.cfg.log.Warnf("ping failed: %v", err)
	s.handleTransportFailure(toCloseReason(err))
}

// OnPacket implements transport.Delegate. Dispatched onto the worker pool
// when one is available so a slow observer callback can't stall the read
// loop.
func (s *Session) OnPacket(p packet.Packet) {
	if s.pool != nil {
		if err := s.pool.Submit(func() { s.dispatch(p) }); err == nil {
			return
		}
	}
	s.dispatch(p)
}

func (s *Session) dispatch(p packet.Packet) {
	if s.cfg.metrics != nil {
		s.cfg.metrics.PacketsReceived.Inc()
	}
	s.cfg.log.Debugf("received %s", packet.TypeName(p.Type()))
	switch pkt := p.(type) {
	case *packet.Connack:
		if c := s.slots.TakeConnect(); c != nil {
			c.Resolve(pkt, nil)
		}
	case *packet.Auth:
		switch pkt.ReasonCode {
		case 0x18: // continue authentication
			if c := s.slots.TakeConnect(); c != nil {
				c.Resolve(pkt, nil)
				return
			}
			if c := s.slots.TakeAuth(); c != nil {
				c.Resolve(pkt, nil)
			}
		default:
			if c := s.slots.TakeAuth(); c != nil {
				c.Resolve(pkt, nil)
			}
		}
	case *packet.Pingresp:
		if c := s.slots.TakePing(); c != nil {
			c.Resolve(pkt, nil)
		}
		s.ping.NotifyPong()
	case *packet.Publish:
		s.handleInboundPublish(pkt)
	case *packet.PubAck:
		s.handlePubAckFamily(pkt)
	case *packet.Suback:
		if c, ok := s.active.Take(pkt.PacketID); ok {
			c.Resolve(pkt, nil)
		}
	case *packet.Unsuback:
		if c, ok := s.active.Take(pkt.PacketID); ok {
			c.Resolve(pkt, nil)
		}
	case *packet.Disconnect:
		s.handleTransportFailure(CloseReason{Kind: ReasonServerClose, Code: pkt.ReasonCode})
	default:
		s.obs.emitError(ErrUnexpectPacket)
	}
}

// OnError implements transport.Delegate.
func (s *Session) OnError(err error) {
	s.handleTransportFailure(toCloseReason(err))
}

// OnBytes implements transport.Delegate: raw bytes read off the wire,
// before framing.
func (s *Session) OnBytes(n int) {
	if s.cfg.metrics != nil {
		s.cfg.metrics.BytesReceived.Add(float64(n))
	}
}

// OnState implements transport.Delegate. transport.reportError always
// emits StateFailed immediately before the accompanying OnError call with
// the concrete error, so acting here too would handle the same failure
// twice; StateFailed is logged only.
func (s *Session) OnState(st transport.State) {
	s.cfg.log.Debugf("transport state: %s", st)
}

// handleTransportFailure runs closeFrom on its own goroutine: closeFrom
// cancels the transport and waits for its read loop to exit, and the caller
// may be that read loop (OnError, or dispatch without the worker pool).
func (s *Session) handleTransportFailure(reason CloseReason) {
	go s.closeFrom(reason)
}

// toCloseReason maps an error onto the CloseReason taxonomy: a
// transport-level error maps to ReasonTransportError, an MQTT wire/decode
// error maps to ReasonProtocolError, a failed acknowledgement maps to
// ReasonOtherError, and the ping timeout sentinel (already a CloseReason)
// passes through unchanged.
func toCloseReason(err error) CloseReason {
	if cr, ok := err.(CloseReason); ok {
		return cr
	}
	var ackErr *AckError
	if errors.As(err, &ackErr) {
		return CloseReason{Kind: ReasonOtherError, Err: err}
	}
	switch {
	case errors.Is(err, packet.ErrVarintOverflow),
		errors.Is(err, packet.ErrUnexpectedTokens),
		errors.Is(err, packet.ErrUnexpectedDataLength),
		errors.Is(err, packet.ErrUnrecognisedPacketType),
		errors.Is(err, packet.ErrMalformedFlags):
		return CloseReason{Kind: ReasonProtocolError, Err: err}
	default:
		return CloseReason{Kind: ReasonTransportError, Err: err}
	}
}

// onReachabilityChange reacts to the monitor's two interesting
// transitions: losing reachability while opened closes the session as
// unavailable; regaining it while closed triggers an immediate reconnect.
func (s *Session) onReachabilityChange(old, new reachability.Status) {
	switch {
	case new == reachability.Unsatisfied:
		if s.Status() == StatusOpened {
			s.closeFrom(CloseReason{Kind: ReasonNetworkUnavailable})
		}
	case old == reachability.Unsatisfied && new == reachability.Satisfied:
		st := s.Status()
		if st != StatusOpened && st != StatusOpening {
			s.triggerImmediateReconnect()
		}
	}
}

// handleInboundPublish delivers an incoming PUBLISH per its QoS.
// QoS 2 holds the message in the passive table
// until the matching PUBREL arrives rather than delivering it twice on a
// duplicate PUBLISH, and resends PUBREC on publishTimeout until PUBREL
// shows up.
func (s *Session) handleInboundPublish(p *packet.Publish) {
	msg := Message{
		Topic:   p.Topic,
		Payload: p.Payload,
		QoS:     QoS(p.QoS),
		Retain:  p.Retain,
		Dup:     p.Dup,
		Props:   p.Props,
	}
	switch p.QoS {
	case 0:
		s.obs.emitMessage(msg)
	case 1:
		s.obs.emitMessage(msg)
		ack := &packet.PubAck{Kind: packet.TypePuback, PacketID: p.PacketID, ReasonCode: packet.CodeSuccess.Code, Props: &props.List{}}
		if err := s.send(ack); err != nil {
			s.cfg.log.Warnf("puback id=%d: %v", p.PacketID, err)
		}
	case 2:
		ctx := s.inbound.put(p.PacketID, msg)
		rec := &packet.PubAck{Kind: packet.TypePubrec, PacketID: p.PacketID, ReasonCode: packet.CodeSuccess.Code, Props: &props.List{}}
		if err := s.send(rec); err != nil {
			s.cfg.log.Warnf("pubrec id=%d: %v", p.PacketID, err)
		}
		go s.watchPubrel(ctx, p.PacketID, rec)
	}
}

// watchPubrel resends rec on publishTimeout until ctx is done — either
// because PUBREL arrived (inboundQoS2.take cancels ctx) or a newer PUBLISH
// for the same id displaced this entry (inboundQoS2.put cancels the
// previous ctx). Mirrors awaitPublishStage's resend-on-timeout shape for
// the inbound side of the flow.
func (s *Session) watchPubrel(ctx context.Context, id uint16, rec *packet.PubAck) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.publishTimeout):
			if err := s.send(rec); err != nil {
				s.cfg.log.Warnf("resend pubrec id=%d: %v", id, err)
			}
		}
	}
}

// handlePubAckFamily routes an incoming PUBACK/PUBREC/PUBREL/PUBCOMP to
// the completer awaiting it. A PUBREC or PUBREL that names a
// packet id this session has no record of is a v5-only "orphan" condition
// (typically a retransmit crossing a reconnect): v5 replies with the
// packetIdentifierNotFound reason so the peer's flow terminates instead of
// hanging; v3.1.1 has no reason-code channel to report it on, so the packet
// is silently dropped.
func (s *Session) handlePubAckFamily(pkt *packet.PubAck) {
	switch pkt.Kind {
	case packet.TypePuback, packet.TypePubcomp:
		if c, ok := s.active.Take(pkt.PacketID); ok {
			c.Resolve(pkt, nil)
		}
	case packet.TypePubrec:
		if c, ok := s.active.Take(pkt.PacketID); ok {
			c.Resolve(pkt, nil)
			return
		}
		if s.cfg.version == packet.Version5 {
			rel := &packet.PubAck{Kind: packet.TypePubrel, PacketID: pkt.PacketID, ReasonCode: packet.CodePacketIdentifierNotFound.Code, Props: &props.List{}}
			if err := s.send(rel); err != nil {
				s.cfg.log.Warnf("orphan pubrel id=%d: %v", pkt.PacketID, err)
			}
		}
	case packet.TypePubrel:
		if msg, ok := s.inbound.take(pkt.PacketID); ok {
			s.obs.emitMessage(msg)
			comp := &packet.PubAck{Kind: packet.TypePubcomp, PacketID: pkt.PacketID, ReasonCode: packet.CodeSuccess.Code, Props: &props.List{}}
			if err := s.send(comp); err != nil {
				s.cfg.log.Warnf("pubcomp id=%d: %v", pkt.PacketID, err)
			}
			return
		}
		if s.cfg.version == packet.Version5 {
			comp := &packet.PubAck{Kind: packet.TypePubcomp, PacketID: pkt.PacketID, ReasonCode: packet.CodePacketIdentifierNotFound.Code, Props: &props.List{}}
			if err := s.send(comp); err != nil {
				s.cfg.log.Warnf("orphan pubcomp id=%d: %v", pkt.PacketID, err)
			}
		}
	}
}

// validatePublish enforces the client-side PUBLISH invariants: a
// non-empty, wildcard-free topic, QoS within what CONNACK granted, retain
// only where the broker advertised support, no subscription identifier
// (that property is inbound-only), and a topic alias within the broker's
// advertised maximum.
func (s *Session) validatePublish(msg Message) error {
	if msg.Topic == "" {
		return newPacketError("topic must not be empty")
	}
	if strings.ContainsAny(msg.Topic, "+#") {
		return newPacketError("topic must not contain wildcard characters")
	}
	params := s.ConnectParams()
	if msg.QoS > params.MaxQoS {
		return newPacketError(fmt.Sprintf("qos %d exceeds broker maximum %d", msg.QoS, params.MaxQoS))
	}
	if msg.Retain && !params.RetainAvailable {
		return newPacketError("retain not available on this connection")
	}
	if msg.Props != nil {
		if _, ok := msg.Props.Get(props.SubscriptionIdentifier); ok {
			return newPacketError("subscription identifier must not be set on an outgoing publish")
		}
		if v, ok := msg.Props.Get(props.TopicAlias); ok {
			alias, _ := v.(uint16)
			if params.MaxTopicAlias == 0 || alias == 0 || alias > params.MaxTopicAlias {
				return newPacketError("topic alias out of range")
			}
		}
	}
	return nil
}

// Publish sends msg, dispatching to the QoS-appropriate flow. QoS 0
// returns as soon as the frame is written; QoS 1 and 2 block until the
// flow's terminal acknowledgement (or ctx is done).
func (s *Session) Publish(ctx context.Context, msg Message) (*packet.PubAck, error) {
	if s.Status() != StatusOpened {
		return nil, ErrUnconnected
	}
	if err := s.validatePublish(msg); err != nil {
		return nil, err
	}
	switch msg.QoS {
	case AtMostOnce:
		p := &packet.Publish{Topic: msg.Topic, Retain: msg.Retain, Props: msg.Props, Payload: msg.Payload}
		return nil, s.send(p)
	case AtLeastOnce:
		return s.publishQoS1(ctx, msg)
	default:
		return s.publishQoS2(ctx, msg)
	}
}

// awaitPublishStage waits for completer to resolve against id, resending
// whatever is currently registered in the inflight table under id each
// time publishTimeout elapses without a response. Resending the current
// inflight slot rather than unconditionally the original PUBLISH is what
// lets a QoS 2 flow's PUBREL-wait stage resend PUBREL instead of PUBLISH
// after it has already replaced the slot.
func (s *Session) awaitPublishStage(ctx context.Context, id uint16, completer *tasks.Completer) (*packet.PubAck, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-completer.Chan():
			res := completer.Result()
			if res.Err != nil {
				return nil, res.Err
			}
			ack, ok := res.Packet.(*packet.PubAck)
			if !ok {
				return nil, ErrUnexpectPacket
			}
			return ack, nil
		case <-time.After(s.cfg.publishTimeout):
			if cur, ok := s.infl.get(id); ok {
				if err := s.send(cur); err != nil {
					s.cfg.log.Warnf("resend id=%d: %v", id, err)
				}
			}
		}
	}
}

func (s *Session) publishQoS1(ctx context.Context, msg Message) (*packet.PubAck, error) {
	id := s.alloc.Next()
	p := &packet.Publish{QoS: 1, Topic: msg.Topic, Retain: msg.Retain, PacketID: id, Props: msg.Props, Payload: msg.Payload}
	s.infl.put(id, p)
	s.reportInflightSize()
	defer func() {
		s.infl.remove(id)
		s.reportInflightSize()
	}()

	completer := tasks.NewCompleter()
	s.active.Put(id, completer)
	if err := s.send(p); err != nil {
		s.active.Take(id)
		return nil, err
	}

	ack, err := s.awaitPublishStage(ctx, id, completer)
	if err != nil {
		return nil, err
	}
	if ack.ReasonCode > 0x7F {
		return ack, publishFailed(ack.ReasonCode, "puback reported failure")
	}
	return ack, nil
}

func (s *Session) publishQoS2(ctx context.Context, msg Message) (*packet.PubAck, error) {
	id := s.alloc.Next()
	p := &packet.Publish{QoS: 2, Topic: msg.Topic, Retain: msg.Retain, PacketID: id, Props: msg.Props, Payload: msg.Payload}
	s.infl.put(id, p)
	s.reportInflightSize()
	defer func() {
		s.infl.remove(id)
		s.reportInflightSize()
	}()

	completer := tasks.NewCompleter()
	s.active.Put(id, completer)
	if err := s.send(p); err != nil {
		s.active.Take(id)
		return nil, err
	}

	rec, err := s.awaitPublishStage(ctx, id, completer)
	if err != nil {
		return nil, err
	}
	if rec.ReasonCode > 0x7F {
		return rec, publishFailed(rec.ReasonCode, "pubrec reported failure")
	}

	rel := &packet.PubAck{Kind: packet.TypePubrel, PacketID: id, ReasonCode: packet.CodeSuccess.Code, Props: &props.List{}}
	s.infl.put(id, rel)
	completer = tasks.NewCompleter()
	s.active.Put(id, completer)
	if err := s.send(rel); err != nil {
		s.active.Take(id)
		return nil, err
	}

	comp, err := s.awaitPublishStage(ctx, id, completer)
	if err != nil {
		return nil, err
	}
	if comp.ReasonCode > 0x7F {
		return comp, publishFailed(comp.ReasonCode, "pubcomp reported failure")
	}
	return comp, nil
}

func (s *Session) reportInflightSize() {
	if s.cfg.metrics != nil {
		s.cfg.metrics.InflightSize.Set(float64(s.infl.len()))
	}
}

// Subscribe sends SUBSCRIBE and waits for the matching SUBACK.
func (s *Session) Subscribe(ctx context.Context, subs []packet.Subscription, pr *props.List) (*packet.Suback, error) {
	if s.Status() != StatusOpened {
		return nil, ErrUnconnected
	}
	id := s.alloc.Next()
	completer := tasks.NewCompleter()
	s.active.Put(id, completer)
	if err := s.send(&packet.Subscribe{PacketID: id, Props: pr, Subscriptions: subs}); err != nil {
		s.active.Take(id)
		return nil, err
	}
	result, ok := completer.Wait(ctx.Done())
	if !ok {
		s.active.Take(id)
		return nil, ctx.Err()
	}
	if result.Err != nil {
		return nil, result.Err
	}
	suback, ok := result.Packet.(*packet.Suback)
	if !ok {
		return nil, ErrUnexpectPacket
	}
	return suback, nil
}

// Unsubscribe sends UNSUBSCRIBE and waits for the matching UNSUBACK.
func (s *Session) Unsubscribe(ctx context.Context, filters []string, pr *props.List) (*packet.Unsuback, error) {
	if s.Status() != StatusOpened {
		return nil, ErrUnconnected
	}
	id := s.alloc.Next()
	completer := tasks.NewCompleter()
	s.active.Put(id, completer)
	if err := s.send(&packet.Unsubscribe{PacketID: id, Props: pr, TopicFilters: filters}); err != nil {
		s.active.Take(id)
		return nil, err
	}
	result, ok := completer.Wait(ctx.Done())
	if !ok {
		s.active.Take(id)
		return nil, ctx.Err()
	}
	if result.Err != nil {
		return nil, result.Err
	}
	unsuback, ok := result.Packet.(*packet.Unsuback)
	if !ok {
		return nil, ErrUnexpectPacket
	}
	return unsuback, nil
}

// Authenticate drives a mid-session MQTT 5.0 re-authentication: it sends
// AUTH with reasonCode (normally CodeReAuthenticate) and
// loops through any number of CodeContinueAuthentication exchanges via the
// configured AuthFlow, exactly as handshake does for the connect-time
// exchange.
func (s *Session) Authenticate(ctx context.Context, reasonCode byte, pr *props.List) error {
	if s.Status() != StatusOpened {
		return ErrUnconnected
	}
	if s.cfg.authFlow == nil {
		return ErrAuthflowRequired
	}
	completer := tasks.NewCompleter()
	s.slots.PutAuth(completer)
	if err := s.send(&packet.Auth{ReasonCode: reasonCode, Props: pr}); err != nil {
		s.slots.TakeAuth()
		return err
	}
	for {
		result, ok := completer.Wait(ctx.Done())
		if !ok {
			s.slots.TakeAuth()
			return ctx.Err()
		}
		if result.Err != nil {
			return result.Err
		}
		auth, ok := result.Packet.(*packet.Auth)
		if !ok {
			return ErrUnexpectPacket
		}
		if auth.ReasonCode == packet.CodeContinueAuthentication.Code {
			reply, err := s.cfg.authFlow(auth)
			if err != nil {
				return err
			}
			completer = tasks.NewCompleter()
			s.slots.PutAuth(completer)
			if err := s.send(reply); err != nil {
				return err
			}
			continue
		}
		if auth.ReasonCode > 0x7F {
			return connectFailed(auth.ReasonCode, "re-authentication failed")
		}
		return nil
	}
}
