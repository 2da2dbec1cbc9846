// Package props implements the MQTT 5.0 "properties" TLV stream: an ordered
// list of (identifier, typed value) pairs, length-prefixed as a whole and
// appended to the variable header of every v5 control packet that carries
// metadata.
package props

import (
	"errors"
	"fmt"

	"github.com/mqttgo/mqttcore/internal/buffer"
	"github.com/mqttgo/mqttcore/internal/varint"
)

// ID identifies a single MQTT 5.0 property.
type ID byte

// Property identifiers, MQTT 5.0 §2.2.2.2.
const (
	PayloadFormatIndicator          ID = 0x01
	MessageExpiryInterval           ID = 0x02
	ContentType                     ID = 0x03
	ResponseTopic                   ID = 0x08
	CorrelationData                 ID = 0x09
	SubscriptionIdentifier          ID = 0x0B
	SessionExpiryInterval           ID = 0x11
	AssignedClientIdentifier        ID = 0x12
	ServerKeepAlive                 ID = 0x13
	AuthenticationMethod            ID = 0x15
	AuthenticationData              ID = 0x16
	RequestProblemInformation       ID = 0x17
	WillDelayInterval               ID = 0x18
	RequestResponseInformation      ID = 0x19
	ResponseInformation             ID = 0x1A
	ServerReference                 ID = 0x1C
	ReasonString                    ID = 0x1F
	ReceiveMaximum                  ID = 0x21
	TopicAliasMaximum               ID = 0x22
	TopicAlias                      ID = 0x23
	MaximumQoS                      ID = 0x24
	RetainAvailable                 ID = 0x25
	UserProperty                    ID = 0x26
	MaximumPacketSize               ID = 0x27
	WildcardSubscriptionAvailable   ID = 0x28
	SubscriptionIdentifierAvailable ID = 0x29
	SharedSubscriptionAvailable     ID = 0x2A
)

// Kind is the wire data type backing a property value.
type Kind byte

const (
	KindByte Kind = iota + 1
	KindTwoByteInt
	KindFourByteInt
	KindVarInt
	KindUTF8String
	KindUTF8Pair
	KindBinary
)

type spec struct {
	kind     Kind
	multiple bool
}

var specs = map[ID]spec{
	PayloadFormatIndicator:          {KindByte, false},
	MessageExpiryInterval:           {KindFourByteInt, false},
	ContentType:                     {KindUTF8String, false},
	ResponseTopic:                   {KindUTF8String, false},
	CorrelationData:                 {KindBinary, false},
	SubscriptionIdentifier:          {KindVarInt, true},
	SessionExpiryInterval:           {KindFourByteInt, false},
	AssignedClientIdentifier:        {KindUTF8String, false},
	ServerKeepAlive:                 {KindTwoByteInt, false},
	AuthenticationMethod:            {KindUTF8String, false},
	AuthenticationData:              {KindBinary, false},
	RequestProblemInformation:       {KindByte, false},
	WillDelayInterval:               {KindFourByteInt, false},
	RequestResponseInformation:      {KindByte, false},
	ResponseInformation:             {KindUTF8String, false},
	ServerReference:                 {KindUTF8String, false},
	ReasonString:                    {KindUTF8String, false},
	ReceiveMaximum:                  {KindTwoByteInt, false},
	TopicAliasMaximum:               {KindTwoByteInt, false},
	TopicAlias:                      {KindTwoByteInt, false},
	MaximumQoS:                      {KindByte, false},
	RetainAvailable:                 {KindByte, false},
	UserProperty:                    {KindUTF8Pair, true},
	MaximumPacketSize:               {KindFourByteInt, false},
	WildcardSubscriptionAvailable:   {KindByte, false},
	SubscriptionIdentifierAvailable: {KindByte, false},
	SharedSubscriptionAvailable:     {KindByte, false},
}

// StringPair is the value type of a UTF-8 string pair property (only
// UserProperty uses this).
type StringPair struct {
	Key, Value string
}

// ErrUnknownIdentifier is returned when decoding encounters a property
// identifier the MQTT 5.0 spec does not define. Spec calls this an
// "unexpectedTokens" decode error.
var ErrUnknownIdentifier = errors.New("props: unrecognised property identifier")

// Property is a single decoded (identifier, value) pair. Value's concrete
// type depends on the identifier's spec: byte/uint16/uint32 for the
// fixed-width kinds, uint32 for KindVarInt, string for KindUTF8String,
// StringPair for KindUTF8Pair, []byte for KindBinary.
type Property struct {
	ID    ID
	Value any
}

// List is an ordered set of properties. Encoding preserves insertion order;
// List is the zero value for "no properties" (encodes as a single 0 length
// byte).
type List struct {
	items []Property
}

// Add appends a property, preserving insertion order. Callers are
// responsible for passing a Value of the type specs[id] expects;
// encode-side validation lives in one place (Encode).
func (l *List) Add(id ID, value any) {
	l.items = append(l.items, Property{ID: id, Value: value})
}

// All returns the properties in insertion order.
func (l *List) All() []Property {
	if l == nil {
		return nil
	}
	return l.items
}

// Get returns the first property with the given identifier.
func (l *List) Get(id ID) (any, bool) {
	if l == nil {
		return nil, false
	}
	for _, p := range l.items {
		if p.ID == id {
			return p.Value, true
		}
	}
	return nil, false
}

// GetAll returns every property with the given identifier, in order, for
// the repeatable properties (SubscriptionIdentifier, UserProperty).
func (l *List) GetAll(id ID) []any {
	if l == nil {
		return nil
	}
	var out []any
	for _, p := range l.items {
		if p.ID == id {
			out = append(out, p.Value)
		}
	}
	return out
}

// Len reports the number of properties in the list.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// Encode writes the length-prefixed property stream to buf.
func (l *List) Encode(buf *buffer.Buffer) error {
	body := buffer.New()
	for _, p := range l.items {
		s, ok := specs[p.ID]
		if !ok {
			return fmt.Errorf("props: encode: %w: 0x%02X", ErrUnknownIdentifier, byte(p.ID))
		}
		if err := body.WriteByte(byte(p.ID)); err != nil {
			return err
		}
		if err := encodeValue(body, s.kind, p.Value); err != nil {
			return err
		}
	}
	enc, err := varint.Encode(uint32(body.Len()))
	if err != nil {
		return err
	}
	if _, err := buf.Write(enc); err != nil {
		return err
	}
	buf.WriteSub(body)
	return nil
}

func encodeValue(buf *buffer.Buffer, kind Kind, value any) error {
	switch kind {
	case KindByte:
		return buf.WriteByte(value.(byte))
	case KindTwoByteInt:
		buf.WriteUint16(value.(uint16))
		return nil
	case KindFourByteInt:
		buf.WriteUint32(value.(uint32))
		return nil
	case KindVarInt:
		enc, err := varint.Encode(value.(uint32))
		if err != nil {
			return err
		}
		_, err = buf.Write(enc)
		return err
	case KindUTF8String:
		buf.WriteString(value.(string))
		return nil
	case KindBinary:
		buf.WriteBinary(value.([]byte))
		return nil
	case KindUTF8Pair:
		sp := value.(StringPair)
		buf.WriteString(sp.Key)
		buf.WriteString(sp.Value)
		return nil
	default:
		return fmt.Errorf("props: unknown value kind %d", kind)
	}
}

// Decode reads a length-prefixed property stream from buf. An empty stream
// (length 0) yields an empty, non-nil List.
func Decode(buf *buffer.Buffer) (*List, error) {
	length, err := varint.Decode(buf)
	if err != nil {
		return nil, err
	}
	l := &List{}
	if length == 0 {
		return l, nil
	}
	sub, err := buf.Sub(int(length))
	if err != nil {
		return nil, err
	}
	for sub.ReadableBytes() > 0 {
		idByte, err := sub.ReadByte()
		if err != nil {
			return nil, err
		}
		id := ID(idByte)
		s, ok := specs[id]
		if !ok {
			return nil, fmt.Errorf("props: decode: %w: 0x%02X", ErrUnknownIdentifier, idByte)
		}
		v, err := decodeValue(sub, s.kind)
		if err != nil {
			return nil, err
		}
		l.items = append(l.items, Property{ID: id, Value: v})
	}
	return l, nil
}

func decodeValue(buf *buffer.Buffer, kind Kind) (any, error) {
	switch kind {
	case KindByte:
		return buf.ReadByte()
	case KindTwoByteInt:
		return buf.ReadUint16()
	case KindFourByteInt:
		return buf.ReadUint32()
	case KindVarInt:
		return varint.Decode(buf)
	case KindUTF8String:
		return buf.ReadString()
	case KindBinary:
		return buf.ReadBinary()
	case KindUTF8Pair:
		k, err := buf.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := buf.ReadString()
		if err != nil {
			return nil, err
		}
		return StringPair{Key: k, Value: v}, nil
	default:
		return nil, fmt.Errorf("props: unknown value kind %d", kind)
	}
}
