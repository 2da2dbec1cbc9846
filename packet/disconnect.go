package packet

import (
	"github.com/mqttgo/mqttcore/internal/buffer"
	"github.com/mqttgo/mqttcore/props"
)

// Disconnect is the DISCONNECT control packet. On v3.1.1 it has no body at
// all. On v5 the reason code and properties may be omitted entirely when
// the reason is the default (normal disconnection, 0x00) and there are no
// properties.
type Disconnect struct {
	ReasonCode byte
	Props      *props.List
}

func (p *Disconnect) Type() byte { return TypeDisconnect }

func (p *Disconnect) Encode(version byte, buf *buffer.Buffer) error {
	body := buffer.New()
	if version == Version5 {
		shortForm := p.ReasonCode == CodeNormalDisconnection.Code && p.Props.Len() == 0
		if !shortForm {
			if err := body.WriteByte(p.ReasonCode); err != nil {
				return err
			}
			if err := encodeProps(version, body, p.Props); err != nil {
				return err
			}
		}
	}
	if err := writeFixedHeader(buf, TypeDisconnect, FixedHeader{}, body.Len()); err != nil {
		return err
	}
	buf.WriteSub(body)
	return nil
}

func decodeDisconnect(version byte, flags byte, body *buffer.Buffer) (*Disconnect, error) {
	if err := requireZeroFlags(flags); err != nil {
		return nil, err
	}
	p := &Disconnect{ReasonCode: CodeNormalDisconnection.Code, Props: &props.List{}}
	if version != Version5 || body.ReadableBytes() == 0 {
		return p, nil
	}
	var err error
	if p.ReasonCode, err = body.ReadByte(); err != nil {
		return nil, err
	}
	if body.ReadableBytes() > 0 {
		if p.Props, err = decodeProps(version, body); err != nil {
			return nil, err
		}
	}
	return p, nil
}
