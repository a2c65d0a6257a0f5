package model

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/stratumfs/stratum/pkg/model/status"
)

// Objects are encoded as a single kind byte followed by the canonical
// (core deterministic) CBOR encoding of the object's fields. The same
// logical object therefore always produces the same bytes, and the
// same digest, regardless of machine or process.
//
// Blobs are the exception: their payload is stored raw, addressed by
// the digest of the bytes themselves, with no envelope.

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeUnixMicro
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Object is implemented by every encodable object kind.
type Object interface {
	Kind() ObjectKind
	// ChildObjects returns the digests of objects this object refers to.
	ChildObjects() []Digest
}

// Encode produces the canonical byte encoding of an object.
func Encode(obj Object) ([]byte, error) {
	payload, err := encMode.Marshal(obj)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, byte(obj.Kind()))
	return append(out, payload...), nil
}

// EncodedDigest encodes an object and returns both the encoding and
// its digest.
func EncodedDigest(obj Object) ([]byte, Digest, error) {
	encoded, err := Encode(obj)
	if err != nil {
		return nil, NullDigest, err
	}
	return encoded, DigestBytes(encoded), nil
}

// Decode parses the canonical encoding of the expected kind.
func Decode(data []byte, expected ObjectKind) (Object, error) {
	if len(data) == 0 {
		return nil, status.ErrCorruptObject.WrapMessage("empty encoding, expected %s", expected)
	}
	if ObjectKind(data[0]) != expected {
		return nil, status.ErrCorruptObject.WrapMessage("kind %s, expected %s", ObjectKind(data[0]), expected)
	}
	var obj Object
	switch expected {
	case KindTree:
		obj = &Tree{}
	case KindLayer:
		obj = &Layer{}
	case KindPlatform:
		obj = &Platform{}
	default:
		return nil, status.ErrCorruptObject.WrapMessage("kind %s has no decodable envelope", expected)
	}
	if err := decMode.Unmarshal(data[1:], obj); err != nil {
		return nil, status.ErrCorruptObject.Wrap(err)
	}
	return obj, nil
}

// DecodeAny parses an encoding whose kind byte is trusted, trying the
// envelope kinds in turn. Used when resolving a bare digest reference.
func DecodeAny(data []byte) (Object, error) {
	if len(data) == 0 {
		return nil, status.ErrCorruptObject.WrapMessage("empty encoding")
	}
	kind := ObjectKind(data[0])
	switch kind {
	case KindTree, KindLayer, KindPlatform:
		return Decode(data, kind)
	default:
		return nil, status.ErrCorruptObject.WrapMessage("unrecognized kind byte %d", data[0])
	}
}
