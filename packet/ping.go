package packet

import "github.com/mqttgo/mqttcore/internal/buffer"

// Pingreq is the PINGREQ control packet: no variable header, no payload.
type Pingreq struct{}

func (p *Pingreq) Type() byte { return TypePingreq }

func (p *Pingreq) Encode(version byte, buf *buffer.Buffer) error {
	return writeFixedHeader(buf, TypePingreq, FixedHeader{}, 0)
}

func decodePingreq(flags byte) (*Pingreq, error) {
	if err := requireZeroFlags(flags); err != nil {
		return nil, err
	}
	return &Pingreq{}, nil
}

// Pingresp is the PINGRESP control packet.
type Pingresp struct{}

func (p *Pingresp) Type() byte { return TypePingresp }

func (p *Pingresp) Encode(version byte, buf *buffer.Buffer) error {
	return writeFixedHeader(buf, TypePingresp, FixedHeader{}, 0)
}

func decodePingresp(flags byte) (*Pingresp, error) {
	if err := requireZeroFlags(flags); err != nil {
		return nil, err
	}
	return &Pingresp{}, nil
}
