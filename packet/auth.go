package packet

import (
	"github.com/mqttgo/mqttcore/internal/buffer"
	"github.com/mqttgo/mqttcore/props"
)

// Auth is the MQTT 5.0 AUTH control packet, used for the enhanced
// (SASL-style) authentication handshake. It does not exist
// in MQTT 3.1.1. The short form (omitted reason + properties) applies when
// reason is success and there are no properties, same rule as DISCONNECT.
type Auth struct {
	ReasonCode byte
	Props      *props.List
}

func (p *Auth) Type() byte { return TypeAuth }

func (p *Auth) Encode(version byte, buf *buffer.Buffer) error {
	body := buffer.New()
	shortForm := p.ReasonCode == CodeSuccess.Code && p.Props.Len() == 0
	if !shortForm {
		if err := body.WriteByte(p.ReasonCode); err != nil {
			return err
		}
		if err := encodeProps(version, body, p.Props); err != nil {
			return err
		}
	}
	if err := writeFixedHeader(buf, TypeAuth, FixedHeader{}, body.Len()); err != nil {
		return err
	}
	buf.WriteSub(body)
	return nil
}

func decodeAuth(version byte, flags byte, body *buffer.Buffer) (*Auth, error) {
	if err := requireZeroFlags(flags); err != nil {
		return nil, err
	}
	p := &Auth{ReasonCode: CodeSuccess.Code, Props: &props.List{}}
	if body.ReadableBytes() == 0 {
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
