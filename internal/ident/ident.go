// Package ident implements the 12-byte document identifier used throughout
// the sync engine: a fixed-width binary value with a canonical 24-character
// lowercase hex rendering, modeled on the document database's own object id
// shape but independent of any particular driver's type.
package ident

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid"
)

// Size is the fixed byte width of an Identifier.
const Size = 12

// HexLen is the length of an Identifier's canonical hex rendering.
const HexLen = Size * 2

// ID is a 12-byte opaque identifier with a total byte-lexicographic ordering.
type ID [Size]byte

// Zero is the identifier with every byte zero.
var Zero ID

// Compare returns -1, 0 or 1 comparing a to b lexicographically on bytes.
func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}

// Less reports whether a sorts strictly before b.
func Less(a, b ID) bool {
	return Compare(a, b) < 0
}

// Hex renders the identifier as 24 lowercase hex characters.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

// String satisfies fmt.Stringer with the canonical hex rendering.
func (id ID) String() string {
	return id.Hex()
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == Zero
}

// FromHex decodes a 24-character hex string into an Identifier. It is the
// exact inverse of Hex: FromHex(id.Hex()) == id for every id.
func FromHex(s string) (ID, error) {
	var id ID
	if len(s) != HexLen {
		return id, fmt.Errorf("ident: hex string must be %d characters, got %d", HexLen, len(s))
	}
	n, err := hex.Decode(id[:], []byte(s))
	if err != nil {
		return id, fmt.Errorf("ident: decode hex %q: %w", s, err)
	}
	if n != Size {
		return id, fmt.Errorf("ident: decoded %d bytes, want %d", n, Size)
	}
	return id, nil
}

// FromBytes copies b into a new Identifier. b must be exactly Size bytes.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return id, fmt.Errorf("ident: byte slice must be %d bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns a copy of the identifier's underlying bytes.
func (id ID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

// Generator produces identifiers that are unique within the process that
// created it. It is not cryptographically secure: uniqueness rests on a
// per-process random seed plus a monotonic counter, not on unpredictability.
//
// The layout mirrors a MongoDB ObjectID: 4-byte seconds timestamp, 5 random
// process-unique bytes fixed at construction, 3-byte monotonic counter.
type Generator struct {
	processID [5]byte
	counter   uint32
}

// NewGenerator creates a Generator seeded from a ulid.Monotonic entropy
// source. crypto/rand's unpredictability guarantees are not needed here —
// uniqueness within the process is the only requirement.
func NewGenerator() *Generator {
	g := &Generator{}
	seed := rand.New(rand.NewSource(time.Now().UnixNano()))
	entropy := ulid.Monotonic(seed, 0)
	if _, err := entropy.Read(g.processID[:]); err != nil {
		panic(fmt.Sprintf("ident: failed to seed generator: %v", err))
	}
	var counterSeed [4]byte
	if _, err := entropy.Read(counterSeed[:]); err != nil {
		panic(fmt.Sprintf("ident: failed to seed generator counter: %v", err))
	}
	g.counter = binary.BigEndian.Uint32(counterSeed[:]) & 0x00ffffff
	return g
}

// New returns a fresh, process-unique Identifier. Collisions across two
// Generators (e.g. in different processes) are a programming error the
// caller is expected to avoid by using one Generator per process.
func (g *Generator) New() ID {
	var id ID
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], g.processID[:])

	c := atomic.AddUint32(&g.counter, 1) & 0x00ffffff
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)

	return id
}

// defaultGenerator backs the package-level New convenience function.
var defaultGenerator = NewGenerator()

// New returns a fresh Identifier from the package-wide default Generator.
func New() ID {
	return defaultGenerator.New()
}
