package packet

import (
	"github.com/mqttgo/mqttcore/internal/buffer"
	"github.com/mqttgo/mqttcore/props"
)

// PubAck represents the shared layout of PUBACK, PUBREC, PUBREL and
// PUBCOMP. Kind distinguishes which of the four this is. On v5, a
// reason of success with no properties may be sent as the 2-byte shortened
// form (packet id only).
type PubAck struct {
	Kind       byte
	PacketID   uint16
	ReasonCode byte
	Props      *props.List
}

func (p *PubAck) Type() byte { return p.Kind }

func (p *PubAck) Encode(version byte, buf *buffer.Buffer) error {
	body := buffer.New()
	body.WriteUint16(p.PacketID)

	shortForm := p.ReasonCode == CodeSuccess.Code && p.Props.Len() == 0
	if version == Version5 && !shortForm {
		if err := body.WriteByte(p.ReasonCode); err != nil {
			return err
		}
		if err := encodeProps(version, body, p.Props); err != nil {
			return err
		}
	}

	h := FixedHeader{}
	if p.Kind == TypePubrel {
		h.QoS = 1
	}
	if err := writeFixedHeader(buf, p.Kind, h, body.Len()); err != nil {
		return err
	}
	buf.WriteSub(body)
	return nil
}

func decodePubackFamily(version byte, kind byte, flags byte, body *buffer.Buffer) (*PubAck, error) {
	if kind == TypePubrel {
		if err := require0010Flags(flags); err != nil {
			return nil, err
		}
	} else if err := requireZeroFlags(flags); err != nil {
		return nil, err
	}

	p := &PubAck{Kind: kind, ReasonCode: CodeSuccess.Code, Props: &props.List{}}
	packetID, err := body.ReadUint16()
	if err != nil {
		return nil, err
	}
	p.PacketID = packetID

	if version == Version5 && body.ReadableBytes() > 0 {
		if p.ReasonCode, err = body.ReadByte(); err != nil {
			return nil, err
		}
		if body.ReadableBytes() > 0 {
			if p.Props, err = decodeProps(version, body); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}
