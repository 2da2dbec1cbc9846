package packet

import (
	"github.com/mqttgo/mqttcore/internal/buffer"
	"github.com/mqttgo/mqttcore/props"
)

var protocolName = []byte{0x00, 0x04, 'M', 'Q', 'T', 'T'}

// Connect is the MQTT CONNECT control packet: the payload
// order clientID / will-properties / will-topic / will-payload / username /
// password is mandatory, each present iff its connect-flag bit is set.
type Connect struct {
	CleanStart   bool
	WillRetain   bool
	WillQoS      byte
	KeepAlive    uint16
	Props        *props.List // v5 only
	ClientID     string
	WillProps    *props.List // v5 only, present iff WillTopic != "" || WillPayload != nil
	WillTopic    string
	WillPayload  []byte
	Username     string
	HasUsername  bool
	Password     []byte
	HasPassword  bool
}

func (p *Connect) Type() byte { return TypeConnect }

// HasWill reports whether this CONNECT carries a will message.
func (p *Connect) HasWill() bool { return p.WillTopic != "" || p.WillPayload != nil }

func (p *Connect) Encode(version byte, buf *buffer.Buffer) error {
	body := buffer.New()
	if _, err := body.Write(protocolName); err != nil {
		return err
	}
	if err := body.WriteByte(version); err != nil {
		return err
	}

	var flags byte
	if p.HasUsername {
		flags |= 0x80
	}
	if p.HasPassword {
		flags |= 0x40
	}
	if p.HasWill() {
		flags |= 0x04
		flags |= (p.WillQoS & 0x03) << 3
		if p.WillRetain {
			flags |= 0x20
		}
	}
	if p.CleanStart {
		flags |= 0x02
	}
	if err := body.WriteByte(flags); err != nil {
		return err
	}
	body.WriteUint16(p.KeepAlive)

	if err := encodeProps(version, body, p.Props); err != nil {
		return err
	}

	body.WriteString(p.ClientID)
	if p.HasWill() {
		if err := encodeProps(version, body, p.WillProps); err != nil {
			return err
		}
		body.WriteString(p.WillTopic)
		body.WriteBinary(p.WillPayload)
	}
	if p.HasUsername {
		body.WriteString(p.Username)
	}
	if p.HasPassword {
		body.WriteBinary(p.Password)
	}

	if err := writeFixedHeader(buf, TypeConnect, FixedHeader{}, body.Len()); err != nil {
		return err
	}
	buf.WriteSub(body)
	return nil
}

func decodeConnect(version byte, flags byte, body *buffer.Buffer) (*Connect, error) {
	if err := requireZeroFlags(flags); err != nil {
		return nil, err
	}
	name, err := body.ReadBytes(6)
	if err != nil {
		return nil, err
	}
	if string(name) != string(protocolName) {
		return nil, ErrUnexpectedTokens
	}
	if _, err := body.ReadByte(); err != nil { // protocol level, already known from version
		return nil, err
	}
	connFlags, err := body.ReadByte()
	if err != nil {
		return nil, err
	}
	keepAlive, err := body.ReadUint16()
	if err != nil {
		return nil, err
	}

	p := &Connect{
		KeepAlive:   keepAlive,
		CleanStart:  connFlags&0x02 != 0,
		HasUsername: connFlags&0x80 != 0,
		HasPassword: connFlags&0x40 != 0,
	}
	willFlag := connFlags&0x04 != 0
	p.WillQoS = (connFlags & 0x18) >> 3
	p.WillRetain = connFlags&0x20 != 0

	if p.Props, err = decodeProps(version, body); err != nil {
		return nil, err
	}
	if p.ClientID, err = body.ReadString(); err != nil {
		return nil, err
	}
	if willFlag {
		if p.WillProps, err = decodeProps(version, body); err != nil {
			return nil, err
		}
		if p.WillTopic, err = body.ReadString(); err != nil {
			return nil, err
		}
		if p.WillPayload, err = body.ReadBinary(); err != nil {
			return nil, err
		}
	}
	if p.HasUsername {
		if p.Username, err = body.ReadString(); err != nil {
			return nil, err
		}
	}
	if p.HasPassword {
		if p.Password, err = body.ReadBinary(); err != nil {
			return nil, err
		}
	}
	return p, nil
}
