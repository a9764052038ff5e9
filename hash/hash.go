package hash

import (
	"fmt"
	"math/rand"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	// GUIDLength is the expected length of a host identity token
	GUIDLength = 16
)

var (
	// Zero is an empty GUID.
	Zero  = GUID{}
	guidT = reflect.TypeOf(GUID{})
)

// GUID is an opaque host identity token. A zero GUID means "not set".
type GUID [GUIDLength]byte

type GUIDs []GUID

// BytesToGUID sets b to GUID.
// If b is larger than len(h), b will be cropped from the left.
func BytesToGUID(b []byte) GUID {
	var h GUID
	h.SetBytes(b)
	return h
}

// HexToGUID sets byte representation of s to GUID.
// If b is larger than len(h), b will be cropped from the left.
func HexToGUID(s string) GUID { return BytesToGUID(hexutil.MustDecode(s)) }

// Bytes gets the byte representation of the underlying GUID.
func (h GUID) Bytes() []byte { return h[:] }

// Hex converts a GUID to a hex string.
func (h GUID) Hex() string { return hexutil.Encode(h[:]) }

// IsZero reports whether the token is unset.
func (h GUID) IsZero() bool { return h == Zero }

// TerminalString implements log.TerminalStringer, formatting a string for console
// output during logging.
func (h GUID) TerminalString() string {
	return fmt.Sprintf("%x…%x", h[:3], h[13:])
}

// String implements the stringer interface and is used also by the logger when
// doing full logging into a file.
func (h GUID) String() string {
	return h.Hex()
}

// UnmarshalText parses a GUID in hex syntax.
func (h *GUID) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("GUID", input, h[:])
}

// UnmarshalJSON parses a GUID in hex syntax.
func (h *GUID) UnmarshalJSON(input []byte) error {
	return hexutil.UnmarshalFixedJSON(guidT, input, h[:])
}

// MarshalText returns the hex representation of h.
func (h GUID) MarshalText() ([]byte, error) {
	return hexutil.Bytes(h[:]).MarshalText()
}

// SetBytes sets the GUID to the value of b.
// If b is larger than len(h), b will be cropped from the left.
func (h *GUID) SetBytes(b []byte) {
	if len(b) > len(h) {
		b = b[len(b)-GUIDLength:]
	}

	copy(h[GUIDLength-len(b):], b)
}

// FakeGUID generates random fake GUID for testing purpose.
func FakeGUID(seed ...int64) (h GUID) {
	randRead := rand.Read

	if len(seed) > 0 {
		src := rand.NewSource(seed[0])
		rnd := rand.New(src)
		randRead = rnd.Read
	}

	_, err := randRead(h[:])
	if err != nil {
		panic(err)
	}
	return
}

// String returns human readable string representation.
func (hh GUIDs) String() string {
	ss := make([]string, 0, len(hh))
	for _, h := range hh {
		ss = append(ss, h.String())
	}
	return "[" + strings.Join(ss, ", ") + "]"
}

// Contains returns true if h is in the slice.
func (hh GUIDs) Contains(h GUID) bool {
	for _, x := range hh {
		if x == h {
			return true
		}
	}
	return false
}
