package packet

import (
	"github.com/mqttgo/mqttcore/internal/buffer"
	"github.com/mqttgo/mqttcore/props"
)

// Subscription is one topic filter + options entry of a SUBSCRIBE payload
// (MQTT 5.0 §3.8.3.1). NoLocal/RetainAsPublished/RetainHandling are v5-only
// and ignored (zero) on v3.1.1.
type Subscription struct {
	TopicFilter       string
	QoS               byte
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte // 0, 1 or 2
}

func (s Subscription) optionsByte() byte {
	b := s.QoS & 0x03
	if s.NoLocal {
		b |= 0x04
	}
	if s.RetainAsPublished {
		b |= 0x08
	}
	b |= (s.RetainHandling & 0x03) << 4
	return b
}

// Subscribe is the SUBSCRIBE control packet. Fixed-header reserved flags
// must equal 0b0010.
type Subscribe struct {
	PacketID      uint16
	Props         *props.List
	Subscriptions []Subscription
}

func (p *Subscribe) Type() byte { return TypeSubscribe }

func (p *Subscribe) Encode(version byte, buf *buffer.Buffer) error {
	body := buffer.New()
	body.WriteUint16(p.PacketID)
	if err := encodeProps(version, body, p.Props); err != nil {
		return err
	}
	for _, s := range p.Subscriptions {
		body.WriteString(s.TopicFilter)
		if version == Version5 {
			if err := body.WriteByte(s.optionsByte()); err != nil {
				return err
			}
		} else {
			if err := body.WriteByte(s.QoS & 0x03); err != nil {
				return err
			}
		}
	}
	h := FixedHeader{QoS: 1}
	if err := writeFixedHeader(buf, TypeSubscribe, h, body.Len()); err != nil {
		return err
	}
	buf.WriteSub(body)
	return nil
}

func decodeSubscribe(version byte, flags byte, body *buffer.Buffer) (*Subscribe, error) {
	if err := require0010Flags(flags); err != nil {
		return nil, err
	}
	p := &Subscribe{}
	var err error
	if p.PacketID, err = body.ReadUint16(); err != nil {
		return nil, err
	}
	if p.Props, err = decodeProps(version, body); err != nil {
		return nil, err
	}
	for body.ReadableBytes() > 0 {
		topic, err := body.ReadString()
		if err != nil {
			return nil, err
		}
		opts, err := body.ReadByte()
		if err != nil {
			return nil, err
		}
		s := Subscription{TopicFilter: topic, QoS: opts & 0x03}
		if version == Version5 {
			s.NoLocal = opts&0x04 != 0
			s.RetainAsPublished = opts&0x08 != 0
			s.RetainHandling = (opts & 0x30) >> 4
		}
		p.Subscriptions = append(p.Subscriptions, s)
	}
	return p, nil
}

// Suback is the SUBACK control packet: one reason/return code per requested
// subscription, in request order.
type Suback struct {
	PacketID uint16
	Props    *props.List
	Codes    []byte
}

func (p *Suback) Type() byte { return TypeSuback }

func (p *Suback) Encode(version byte, buf *buffer.Buffer) error {
	body := buffer.New()
	body.WriteUint16(p.PacketID)
	if err := encodeProps(version, body, p.Props); err != nil {
		return err
	}
	if _, err := body.Write(p.Codes); err != nil {
		return err
	}
	if err := writeFixedHeader(buf, TypeSuback, FixedHeader{}, body.Len()); err != nil {
		return err
	}
	buf.WriteSub(body)
	return nil
}

func decodeSuback(version byte, flags byte, body *buffer.Buffer) (*Suback, error) {
	if err := requireZeroFlags(flags); err != nil {
		return nil, err
	}
	p := &Suback{}
	var err error
	if p.PacketID, err = body.ReadUint16(); err != nil {
		return nil, err
	}
	if p.Props, err = decodeProps(version, body); err != nil {
		return nil, err
	}
	p.Codes = body.ReadAll()
	return p, nil
}

// Unsubscribe is the UNSUBSCRIBE control packet.
type Unsubscribe struct {
	PacketID     uint16
	Props        *props.List
	TopicFilters []string
}

func (p *Unsubscribe) Type() byte { return TypeUnsubscribe }

func (p *Unsubscribe) Encode(version byte, buf *buffer.Buffer) error {
	body := buffer.New()
	body.WriteUint16(p.PacketID)
	if err := encodeProps(version, body, p.Props); err != nil {
		return err
	}
	for _, t := range p.TopicFilters {
		body.WriteString(t)
	}
	h := FixedHeader{QoS: 1}
	if err := writeFixedHeader(buf, TypeUnsubscribe, h, body.Len()); err != nil {
		return err
	}
	buf.WriteSub(body)
	return nil
}

func decodeUnsubscribe(version byte, flags byte, body *buffer.Buffer) (*Unsubscribe, error) {
	if err := require0010Flags(flags); err != nil {
		return nil, err
	}
	p := &Unsubscribe{}
	var err error
	if p.PacketID, err = body.ReadUint16(); err != nil {
		return nil, err
	}
	if p.Props, err = decodeProps(version, body); err != nil {
		return nil, err
	}
	for body.ReadableBytes() > 0 {
		t, err := body.ReadString()
		if err != nil {
			return nil, err
		}
		p.TopicFilters = append(p.TopicFilters, t)
	}
	return p, nil
}

// Unsuback is the UNSUBACK control packet. Codes is empty on v3.1.1 (which
// has no per-filter result).
type Unsuback struct {
	PacketID uint16
	Props    *props.List
	Codes    []byte
}

func (p *Unsuback) Type() byte { return TypeUnsuback }

func (p *Unsuback) Encode(version byte, buf *buffer.Buffer) error {
	body := buffer.New()
	body.WriteUint16(p.PacketID)
	if version == Version5 {
		if err := encodeProps(version, body, p.Props); err != nil {
			return err
		}
		if _, err := body.Write(p.Codes); err != nil {
			return err
		}
	}
	if err := writeFixedHeader(buf, TypeUnsuback, FixedHeader{}, body.Len()); err != nil {
		return err
	}
	buf.WriteSub(body)
	return nil
}

func decodeUnsuback(version byte, flags byte, body *buffer.Buffer) (*Unsuback, error) {
	if err := requireZeroFlags(flags); err != nil {
		return nil, err
	}
	p := &Unsuback{Props: &props.List{}}
	var err error
	if p.PacketID, err = body.ReadUint16(); err != nil {
		return nil, err
	}
	if version == Version5 {
		if p.Props, err = decodeProps(version, body); err != nil {
			return nil, err
		}
		p.Codes = body.ReadAll()
	}
	return p, nil
}
