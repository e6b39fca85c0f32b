package negotiation

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// IdentitySize is the byte length of identities and identifier values.
const IdentitySize = 32

// ParametersSize is the fixed byte length of the parameter blob.
const ParametersSize = 32

// Identity is an opaque 32-byte identifier. Parties are identified by their
// Ed25519 public keys; protocol and term values reuse the same shape.
type Identity [IdentitySize]byte

// ParseIdentity decodes a hex encoded identity.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("identity: %w", err)
	}
	if len(b) != IdentitySize {
		return id, fmt.Errorf("identity: want %d bytes, got %d", IdentitySize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// MustIdentity is ParseIdentity for constants and tests.
func MustIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool { return id == Identity{} }

func (id Identity) String() string { return hex.EncodeToString(id[:]) }

// Short returns an abbreviated form for logs.
func (id Identity) Short() string { return id.String()[:8] }

// MarshalText encodes the identity as lowercase hex.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes a hex identity.
func (id *Identity) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentity(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value is the canonical byte form of an element value. A nil or empty Value
// means "unset". Identifiers and parameters occupy 32 bytes, stakes 8 bytes
// big-endian.
type Value []byte

// IsSet reports whether the value holds data.
func (v Value) IsSet() bool { return len(v) > 0 }

// Equal compares two values byte for byte.
func (v Value) Equal(o Value) bool { return bytes.Equal(v, o) }

func (v Value) clone() Value {
	if len(v) == 0 {
		return nil
	}
	return append(Value(nil), v...)
}

// IdentityValue encodes a protocol or term identifier.
func IdentityValue(id Identity) Value { return append(Value(nil), id[:]...) }

// StakeValue encodes a stake quantity.
func StakeValue(amount uint64) Value {
	v := make(Value, 8)
	binary.BigEndian.PutUint64(v, amount)
	return v
}

// ParametersValue encodes a parameter blob.
func ParametersValue(p [ParametersSize]byte) Value { return append(Value(nil), p[:]...) }

// Identity decodes an identifier value.
func (v Value) Identity() (Identity, bool) {
	var id Identity
	if len(v) != IdentitySize {
		return id, false
	}
	copy(id[:], v)
	return id, true
}

// Stake decodes a stake value.
func (v Value) Stake() (uint64, bool) {
	if len(v) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(v), true
}

// Display renders the value in its element-specific form.
func (v Value) Display(e Element) string {
	if !v.IsSet() {
		return ""
	}
	if e == Stake {
		if n, ok := v.Stake(); ok {
			return fmt.Sprintf("%d", n)
		}
	}
	return hex.EncodeToString(v)
}

// MarshalText encodes the value as hex.
func (v Value) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(v)), nil
}

// UnmarshalText decodes a hex value.
func (v *Value) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*v = nil
		return nil
	}
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}
	*v = raw
	return nil
}
