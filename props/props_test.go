package props

import (
	"errors"
	"reflect"
	"testing"

	"github.com/mqttgo/mqttcore/internal/buffer"
)

func TestRoundTripPreservesOrder(t *testing.T) {
	l := &List{}
	l.Add(SessionExpiryInterval, uint32(300))
	l.Add(UserProperty, StringPair{Key: "region", Value: "eu-1"})
	l.Add(MaximumQoS, byte(1))
	l.Add(UserProperty, StringPair{Key: "rack", Value: "b7"})
	l.Add(CorrelationData, []byte{0x01, 0x02})

	buf := buffer.New()
	if err := l.Encode(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got.All(), l.All()) {
		t.Fatalf("round trip changed properties:\n got %#v\nwant %#v", got.All(), l.All())
	}
}

func TestEmptyListEncodesSingleZeroByte(t *testing.T) {
	buf := buffer.New()
	if err := (&List{}).Encode(buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 1 || buf.Bytes()[0] != 0 {
		t.Fatalf("empty list encoded as %x, want 00", buf.Bytes())
	}
	got, err := Decode(buf)
	if err != nil || got.Len() != 0 {
		t.Fatalf("Decode(empty) = %v, %v", got, err)
	}
}

func TestDecodeUnknownIdentifierFails(t *testing.T) {
	// Length 2, identifier 0x7E (undefined), one value byte.
	buf := buffer.NewFrom([]byte{0x02, 0x7E, 0x00})
	if _, err := Decode(buf); !errors.Is(err, ErrUnknownIdentifier) {
		t.Fatalf("Decode(unknown id) = %v, want ErrUnknownIdentifier", err)
	}
}

func TestGetAndGetAll(t *testing.T) {
	l := &List{}
	l.Add(SubscriptionIdentifier, uint32(3))
	l.Add(SubscriptionIdentifier, uint32(9))

	v, ok := l.Get(SubscriptionIdentifier)
	if !ok || v.(uint32) != 3 {
		t.Fatalf("Get = %v, %v, want first value 3", v, ok)
	}
	all := l.GetAll(SubscriptionIdentifier)
	if len(all) != 2 || all[1].(uint32) != 9 {
		t.Fatalf("GetAll = %v", all)
	}
	if _, ok := l.Get(TopicAlias); ok {
		t.Fatalf("Get on absent id reported ok")
	}
}

func TestNilListIsEmpty(t *testing.T) {
	var l *List
	if l.Len() != 0 || l.All() != nil {
		t.Fatalf("nil list not empty")
	}
	if _, ok := l.Get(TopicAlias); ok {
		t.Fatalf("nil list Get reported ok")
	}
}

func TestVarIntProperty(t *testing.T) {
	l := &List{}
	l.Add(SubscriptionIdentifier, uint32(268435455))
	buf := buffer.New()
	if err := l.Encode(buf); err != nil {
		t.Fatal(err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := got.Get(SubscriptionIdentifier)
	if v.(uint32) != 268435455 {
		t.Fatalf("varint property = %v", v)
	}
}
