package packet

import (
	"github.com/mqttgo/mqttcore/internal/buffer"
	"github.com/mqttgo/mqttcore/props"
)

// Connack is the CONNACK control packet. ReturnCode carries the v3.1.1
// return code; ReasonCode carries the v5 reason code — callers read
// whichever applies to the connected version.
type Connack struct {
	SessionPresent bool
	ReturnCode     byte // v3.1.1
	ReasonCode     byte // v5
	Props          *props.List
}

func (p *Connack) Type() byte { return TypeConnack }

func (p *Connack) Encode(version byte, buf *buffer.Buffer) error {
	body := buffer.New()
	var ackFlags byte
	if p.SessionPresent {
		ackFlags = 0x01
	}
	if err := body.WriteByte(ackFlags); err != nil {
		return err
	}
	code := p.ReturnCode
	if version == Version5 {
		code = p.ReasonCode
	}
	if err := body.WriteByte(code); err != nil {
		return err
	}
	if err := encodeProps(version, body, p.Props); err != nil {
		return err
	}
	if err := writeFixedHeader(buf, TypeConnack, FixedHeader{}, body.Len()); err != nil {
		return err
	}
	buf.WriteSub(body)
	return nil
}

func decodeConnack(version byte, flags byte, body *buffer.Buffer) (*Connack, error) {
	if err := requireZeroFlags(flags); err != nil {
		return nil, err
	}
	ackFlags, err := body.ReadByte()
	if err != nil {
		return nil, err
	}
	code, err := body.ReadByte()
	if err != nil {
		return nil, err
	}
	p := &Connack{
		SessionPresent: ackFlags&0x01 != 0,
	}
	if version == Version5 {
		p.ReasonCode = code
		if p.Props, err = decodeProps(version, body); err != nil {
			return nil, err
		}
	} else {
		p.ReturnCode = code
		p.Props = &props.List{}
	}
	return p, nil
}
