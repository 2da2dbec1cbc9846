package packet

import (
	"github.com/mqttgo/mqttcore/internal/buffer"
	"github.com/mqttgo/mqttcore/props"
)

// Publish is the PUBLISH control packet. PacketID is only meaningful when
// QoS != 0. Payload's length is implicit in the frame: it is
// whatever bytes remain after the variable header.
type Publish struct {
	Dup      bool
	QoS      byte
	Retain   bool
	Topic    string
	PacketID uint16
	Props    *props.List // v5 only
	Payload  []byte
}

func (p *Publish) Type() byte { return TypePublish }

func (p *Publish) Encode(version byte, buf *buffer.Buffer) error {
	body := buffer.New()
	body.WriteString(p.Topic)
	if p.QoS != 0 {
		body.WriteUint16(p.PacketID)
	}
	if err := encodeProps(version, body, p.Props); err != nil {
		return err
	}
	if _, err := body.Write(p.Payload); err != nil {
		return err
	}
	h := FixedHeader{Dup: p.Dup, QoS: p.QoS, Retain: p.Retain}
	if err := writeFixedHeader(buf, TypePublish, h, body.Len()); err != nil {
		return err
	}
	buf.WriteSub(body)
	return nil
}

func decodePublish(version byte, flags byte, body *buffer.Buffer) (*Publish, error) {
	qos := (flags & 0x06) >> 1
	if qos > 2 {
		return nil, ErrUnexpectedTokens
	}
	p := &Publish{
		Dup:    flags&0x08 != 0,
		QoS:    qos,
		Retain: flags&0x01 != 0,
	}
	var err error
	if p.Topic, err = body.ReadString(); err != nil {
		return nil, err
	}
	if qos != 0 {
		if p.PacketID, err = body.ReadUint16(); err != nil {
			return nil, err
		}
	}
	if p.Props, err = decodeProps(version, body); err != nil {
		return nil, err
	}
	p.Payload = body.ReadAll()
	return p, nil
}
