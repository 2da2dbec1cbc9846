// Package mqtt implements an MQTT 3.1.1 / 5.0 client session: the
// connection lifecycle state machine, QoS 1/2 delivery engines, keep-alive
// pinging, reconnection with backoff, inflight resumption, and the MQTT
// 5.0 enhanced-authentication handshake, built on top of the packet,
// props, transport, tasks, retry and reachability packages.
package mqtt

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/mqttgo/mqttcore/packet"
	"github.com/mqttgo/mqttcore/props"
)

// QoS is an MQTT quality-of-service level.
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

// Identity is the client's identifier and optional credentials. ClientID
// may be mutated by the session core when the broker assigns one via the
// v5 assignedClientIdentifier property.
type Identity struct {
	ClientID string
	Username string
	Password []byte
}

// ConnectParams holds the session parameters negotiated on CONNACK.
// Populated with MQTT 5.0 defaults; left at those defaults on v3.1.1,
// which has no corresponding properties.
type ConnectParams struct {
	MaxQoS          QoS
	MaxPacketSize   uint32 // 0 means unlimited
	RetainAvailable bool
	MaxTopicAlias   uint16
	ServerKeepAlive uint16 // 0 means "not overridden"
}

// DefaultConnectParams returns the MQTT 5.0 spec defaults.
func DefaultConnectParams() ConnectParams {
	return ConnectParams{
		MaxQoS:          ExactlyOnce,
		RetainAvailable: true,
		MaxTopicAlias:   65535,
	}
}

// Message is an application payload delivered to or from the broker.
type Message struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
	Dup     bool
	Props   *props.List // v5 only; an empty list on inbound v3.1.1 messages
}

// Status is the session's connection-lifecycle state.
type Status int

const (
	StatusClosed Status = iota
	StatusOpening
	StatusOpened
	StatusClosing
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusOpening:
		return "opening"
	case StatusOpened:
		return "opened"
	case StatusClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// CloseReasonKind tags the variants of CloseReason.
type CloseReasonKind int

const (
	ReasonNone CloseReasonKind = iota
	ReasonPingTimeout
	ReasonNetworkUnavailable
	ReasonServerClose
	ReasonClientClose
	ReasonProtocolError
	ReasonTransportError
	ReasonOtherError
)

// CloseReason explains why a session reached StatusClosed. Code
// is populated for ReasonServerClose/ReasonClientClose (the MQTT reason
// code); Err carries the underlying error for ReasonProtocolError,
// ReasonTransportError and ReasonOtherError.
type CloseReason struct {
	Kind CloseReasonKind
	Code byte
	Err  error
}

func (r CloseReason) Error() string {
	switch r.Kind {
	case ReasonNone:
		return "no close reason"
	case ReasonPingTimeout:
		return "ping timeout"
	case ReasonNetworkUnavailable:
		return "network unavailable"
	case ReasonServerClose:
		return fmt.Sprintf("server closed: reason=0x%02X", r.Code)
	case ReasonClientClose:
		return fmt.Sprintf("client closed: reason=0x%02X", r.Code)
	case ReasonProtocolError:
		return fmt.Sprintf("protocol error: %v", r.Err)
	case ReasonTransportError:
		return fmt.Sprintf("transport error: %v", r.Err)
	default:
		return fmt.Sprintf("other error: %v", r.Err)
	}
}

// RetryDisallowed implements retry.Reason: an unavailable network, and a
// transport error reporting the network unreachable or down, must never be
// retried regardless of any configured filter.
func (r CloseReason) RetryDisallowed() bool {
	if r.Kind == ReasonNetworkUnavailable {
		return true
	}
	return r.Kind == ReasonTransportError &&
		(errors.Is(r.Err, syscall.ENETUNREACH) || errors.Is(r.Err, syscall.ENETDOWN))
}

// notification models the three notification kinds as one tagged union.
// The observers registry does not use it; it delivers notifications through
// Observer's callbacks.
type notification struct {
	kind    notificationKind
	oldStat Status
	newStat Status
	message Message
	err     error
}

type notificationKind int

const (
	notifyStatus notificationKind = iota
	notifyMessage
	notifyError
)

// Will describes a pre-registered message the broker publishes on
// abnormal disconnect.
type Will struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
	Props   *props.List
}

// AuthFlow is invoked with each broker AUTH received during open and
// returns the AUTH to send back. A nil AuthFlow means the session cannot
// complete an enhanced-authentication handshake.
type AuthFlow func(in *packet.Auth) (*packet.Auth, error)
