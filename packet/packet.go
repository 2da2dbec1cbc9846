// Package packet implements the MQTT 3.1.1 / 5.0 wire codec: one Go type per
// control packet, each able to encode and decode itself bit-exactly for
// either protocol version.
//
package packet

import (
	"errors"
	"fmt"

	"github.com/mqttgo/mqttcore/internal/buffer"
	"github.com/mqttgo/mqttcore/internal/varint"
	"github.com/mqttgo/mqttcore/props"
)

// Protocol version bytes, as carried in CONNECT's variable header.
const (
	Version311 byte = 0x04
	Version5   byte = 0x05
)

// Control packet type nibbles, MQTT 3.1.1 / 5.0 §2.1.2.
const (
	TypeReserved byte = iota
	TypeConnect
	TypeConnack
	TypePublish
	TypePuback
	TypePubrec
	TypePubrel
	TypePubcomp
	TypeSubscribe
	TypeSuback
	TypeUnsubscribe
	TypeUnsuback
	TypePingreq
	TypePingresp
	TypeDisconnect
	TypeAuth
)

var typeNames = map[byte]string{
	TypeReserved:    "RESERVED",
	TypeConnect:     "CONNECT",
	TypeConnack:     "CONNACK",
	TypePublish:     "PUBLISH",
	TypePuback:      "PUBACK",
	TypePubrec:      "PUBREC",
	TypePubrel:      "PUBREL",
	TypePubcomp:     "PUBCOMP",
	TypeSubscribe:   "SUBSCRIBE",
	TypeSuback:      "SUBACK",
	TypeUnsubscribe: "UNSUBSCRIBE",
	TypeUnsuback:    "UNSUBACK",
	TypePingreq:     "PINGREQ",
	TypePingresp:    "PINGRESP",
	TypeDisconnect:  "DISCONNECT",
	TypeAuth:        "AUTH",
}

// TypeName returns a human-readable name for a control packet type nibble.
func TypeName(t byte) string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN(0x%X)", t)
}

// Decode-time errors. IncompletePacket is
// an internal signal consumed by the framer (transport package) and must
// never reach a caller of Decode directly from a framed transport.
var (
	ErrIncompletePacket       = errors.New("packet: incomplete packet")
	ErrVarintOverflow         = varint.ErrOverflow
	ErrUnexpectedTokens       = errors.New("packet: unexpected tokens")
	ErrUnexpectedDataLength   = errors.New("packet: unexpected data length")
	ErrUnrecognisedPacketType = errors.New("packet: unrecognised packet type")
	ErrMalformedFlags         = errors.New("packet: malformed fixed-header flags")
)

// Packet is the common interface implemented by every control packet type.
type Packet interface {
	// Type returns the control packet type nibble (TypeConnect, etc).
	Type() byte
	// Encode appends the full frame (fixed header, variable header,
	// payload) for the given protocol version to buf.
	Encode(version byte, buf *buffer.Buffer) error
}

// FixedHeader holds the first-byte flag bits shared by every packet type.
// Not every packet uses every field: only PUBLISH uses Dup/QoS/Retain, the
// rest carry fixed reserved values validated at decode time.
type FixedHeader struct {
	Dup    bool
	QoS    byte
	Retain bool
}

func firstByte(kind byte, h FixedHeader) byte {
	b := kind << 4
	if h.Dup {
		b |= 0x08
	}
	b |= (h.QoS & 0x03) << 1
	if h.Retain {
		b |= 0x01
	}
	return b
}

func writeFixedHeader(buf *buffer.Buffer, kind byte, h FixedHeader, remaining int) error {
	if err := buf.WriteByte(firstByte(kind, h)); err != nil {
		return err
	}
	enc, err := varint.Encode(uint32(remaining))
	if err != nil {
		return err
	}
	_, err = buf.Write(enc)
	return err
}

// Decode reads one complete control packet from the front of buf. It
// returns ErrIncompletePacket, with the cursor rewound to its entry
// position, if buf does not yet hold a full frame.
func Decode(version byte, buf *buffer.Buffer) (Packet, error) {
	start := buf.Pos()

	first, err := buf.ReadByte()
	if err != nil {
		buf.SeekTo(start)
		return nil, ErrIncompletePacket
	}
	kind := first >> 4
	flags := first & 0x0F

	remaining, err := varint.Decode(buf)
	if err != nil {
		if errors.Is(err, buffer.ErrShortBuffer) {
			buf.SeekTo(start)
			return nil, ErrIncompletePacket
		}
		return nil, err
	}

	if buf.ReadableBytes() < int(remaining) {
		buf.SeekTo(start)
		return nil, ErrIncompletePacket
	}
	body, err := buf.Sub(int(remaining))
	if err != nil {
		buf.SeekTo(start)
		return nil, ErrIncompletePacket
	}

	switch kind {
	case TypeConnect:
		return decodeConnect(version, flags, body)
	case TypeConnack:
		return decodeConnack(version, flags, body)
	case TypePublish:
		return decodePublish(version, flags, body)
	case TypePuback:
		return decodePubackFamily(version, TypePuback, flags, body)
	case TypePubrec:
		return decodePubackFamily(version, TypePubrec, flags, body)
	case TypePubrel:
		return decodePubackFamily(version, TypePubrel, flags, body)
	case TypePubcomp:
		return decodePubackFamily(version, TypePubcomp, flags, body)
	case TypeSubscribe:
		return decodeSubscribe(version, flags, body)
	case TypeSuback:
		return decodeSuback(version, flags, body)
	case TypeUnsubscribe:
		return decodeUnsubscribe(version, flags, body)
	case TypeUnsuback:
		return decodeUnsuback(version, flags, body)
	case TypePingreq:
		return decodePingreq(flags)
	case TypePingresp:
		return decodePingresp(flags)
	case TypeDisconnect:
		return decodeDisconnect(version, flags, body)
	case TypeAuth:
		return decodeAuth(version, flags, body)
	default:
		return nil, fmt.Errorf("%w: 0x%X", ErrUnrecognisedPacketType, kind)
	}
}

// requireZeroFlags validates the reserved fixed-header flags shared by most
// packet types (everything except PUBLISH, PUBREL/SUBSCRIBE/UNSUBSCRIBE).
func requireZeroFlags(flags byte) error {
	if flags != 0 {
		return ErrMalformedFlags
	}
	return nil
}

// require0010Flags validates the PUBREL/SUBSCRIBE/UNSUBSCRIBE reserved
// flags, which must equal 0b0010.
func require0010Flags(flags byte) error {
	if flags != 0b0010 {
		return ErrMalformedFlags
	}
	return nil
}

// decodeProps decodes a v5 properties block, a no-op (empty list) on v3.
func decodeProps(version byte, buf *buffer.Buffer) (*props.List, error) {
	if version != Version5 {
		return &props.List{}, nil
	}
	return props.Decode(buf)
}

func encodeProps(version byte, buf *buffer.Buffer, p *props.List) error {
	if version != Version5 {
		return nil
	}
	if p == nil {
		p = &props.List{}
	}
	return p.Encode(buf)
}
