package code

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Magic prefixes every encoded unit.
var Magic = []byte{'G', 'L', 'W', 'U'}

var (
	// ErrBadMagic is returned when raw bytes are not an encoded unit.
	ErrBadMagic = errors.New("code: bad magic")
	// ErrVersion is returned when a unit was encoded by an incompatible
	// format version.
	ErrVersion = errors.New("code: unsupported format version")
)

// cborEncMode uses canonical options so that equal units encode to equal
// bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("code: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Encode serializes a unit to its raw form.
func Encode(u *Unit) ([]byte, error) {
	if u.Version == 0 {
		u.Version = FormatVersion
	}
	body, err := cborEncMode.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("code: marshal unit %s: %w", u.Name, err)
	}
	out := make([]byte, 0, len(Magic)+len(body))
	out = append(out, Magic...)
	return append(out, body...), nil
}

// MustEncode is like Encode but panics on error. Intended for tests and
// fixtures.
func MustEncode(u *Unit) []byte {
	raw, err := Encode(u)
	if err != nil {
		panic(err)
	}
	return raw
}

// Decode deserializes a unit from its raw form.
func Decode(raw []byte) (*Unit, error) {
	if !bytes.HasPrefix(raw, Magic) {
		return nil, ErrBadMagic
	}
	var u Unit
	if err := cbor.Unmarshal(raw[len(Magic):], &u); err != nil {
		return nil, fmt.Errorf("code: unmarshal unit: %w", err)
	}
	if u.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, u.Version)
	}
	return &u, nil
}
