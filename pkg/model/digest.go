package model

import (
	"encoding/hex"
	"hash"

	blake2b "github.com/minio/blake2b-simd"
	"github.com/stratumfs/stratum/pkg/model/status"
)

const (
	// DigestSize is the byte length of a content digest (BLAKE2b-256)
	DigestSize = 32

	// DigestSizeHex is the length of the hex representation of a digest
	DigestSizeHex = 2 * DigestSize
)

// Digest identifies an object by the hash of its canonical byte
// encoding. Equal bytes always yield an equal digest.
type Digest [DigestSize]byte

// NullDigest is the zero digest, used where no object is referenced.
var NullDigest = Digest{}

// NewDigest creates a digest from its raw byte representation.
func NewDigest(data []byte) (Digest, error) {
	var d Digest
	if copy(d[:], data) != DigestSize || len(data) != DigestSize {
		return Digest{}, status.ErrBadDigest.WrapMessage("%x has size %d, expected %d", data, len(data), DigestSize)
	}
	return d, nil
}

// MustNewDigest creates a digest from raw bytes but panics on error.
func MustNewDigest(data []byte) Digest {
	d, err := NewDigest(data)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseDigest creates a digest from its hex string representation.
func ParseDigest(s string) (Digest, error) {
	if len(s) != DigestSizeHex {
		return Digest{}, status.ErrBadDigest.WrapMessage("%q has length %d, expected %d", s, len(s), DigestSizeHex)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, status.ErrBadDigest.Wrap(err)
	}
	return NewDigest(raw)
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsNull reports whether this is the zero digest.
func (d Digest) IsNull() bool {
	return d == NullDigest
}

// MarshalCBOR encodes the digest as a CBOR byte string so that the
// canonical encoding stays compact and deterministic.
func (d Digest) MarshalCBOR() ([]byte, error) {
	// major type 2 (byte string), length 32
	out := make([]byte, 0, DigestSize+2)
	out = append(out, 0x58, DigestSize)
	return append(out, d[:]...), nil
}

// UnmarshalCBOR decodes a digest from a CBOR byte string.
func (d *Digest) UnmarshalCBOR(data []byte) error {
	if len(data) != DigestSize+2 || data[0] != 0x58 || data[1] != DigestSize {
		return status.ErrBadDigest.WrapMessage("unexpected cbor encoding of length %d", len(data))
	}
	copy(d[:], data[2:])
	return nil
}

// MarshalJSON encodes the digest as a hex string.
func (d Digest) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes a digest from a hex string.
func (d *Digest) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return status.ErrBadDigest.WrapMessage("expected a quoted hex string")
	}
	parsed, err := ParseDigest(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// NewHasher returns a streaming hasher producing a Digest.
func NewHasher() hash.Hash {
	hasher, err := blake2b.New(&blake2b.Config{Size: DigestSize})
	if err != nil {
		// New only fails when the configuration is wrong
		panic(err)
	}
	return hasher
}

// DigestBytes computes the digest of a byte buffer.
func DigestBytes(data []byte) Digest {
	hasher := NewHasher()
	_, _ = hasher.Write(data)
	return MustNewDigest(hasher.Sum(nil))
}
