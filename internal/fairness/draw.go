// Package fairness produces verifiable random draws and resolves them
// against weighted reward pools.
package fairness

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"time"

	"LootLedger/internal/failure"
)

// valueBits is the number of digest bits used for the draw value. 53 bits
// fill a float64 mantissa exactly, so value stays strictly below 1.
const valueBits = 53

// Draw is an immutable random draw. Everything except the secret is
// published so anyone holding the secret can re-derive Hash and Value.
type Draw struct {
	Seed      string  `json:"seed"`
	Timestamp int64   `json:"timestamp"` // unix millis
	Hash      string  `json:"hash"`      // hex sha256
	Value     float64 `json:"value"`     // [0, 1)
}

// Generator derives draws from sha256(seed:timestamp:secret).
// It holds no mutable state and is safe for concurrent use.
type Generator struct {
	secret []byte
	now    func() time.Time
}

// NewGenerator creates a generator bound to the server secret.
func NewGenerator(secret string) (*Generator, error) {
	if secret == "" {
		return nil, failure.New(failure.InputMalformed, "draw secret is empty")
	}
	return &Generator{secret: []byte(secret), now: time.Now}, nil
}

// WithClock returns a copy that reads time from now.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	return &Generator{secret: g.secret, now: now}
}

// Generate produces a draw for seed at the current time.
func (g *Generator) Generate(seed string) Draw {
	return g.GenerateAt(seed, g.now().UnixMilli())
}

// GenerateAt produces the draw for seed at a fixed timestamp.
func (g *Generator) GenerateAt(seed string, timestampMillis int64) Draw {
	digest := g.digest(seed, timestampMillis)
	return Draw{
		Seed:      seed,
		Timestamp: timestampMillis,
		Hash:      hex.EncodeToString(digest[:]),
		Value:     valueFromDigest(digest),
	}
}

// Verify recomputes the digest and checks both the hash and the value.
// A draw with a forged value but an honest hash fails.
func (g *Generator) Verify(d Draw) bool {
	digest := g.digest(d.Seed, d.Timestamp)
	claimed, err := hex.DecodeString(d.Hash)
	if err != nil || len(claimed) != sha256.Size {
		return false
	}
	if subtle.ConstantTimeCompare(digest[:], claimed) != 1 {
		return false
	}
	return valueFromDigest(digest) == d.Value
}

func (g *Generator) digest(seed string, timestampMillis int64) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(seed))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.FormatInt(timestampMillis, 10)))
	h.Write([]byte{':'})
	h.Write(g.secret)

	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ValueFromHash maps a published hex digest to its draw value.
func ValueFromHash(hash string) (float64, error) {
	raw, err := hex.DecodeString(hash)
	if err != nil || len(raw) != sha256.Size {
		return 0, failure.New(failure.InputMalformed, "draw hash must be %d hex bytes", sha256.Size)
	}
	var digest [sha256.Size]byte
	copy(digest[:], raw)
	return valueFromDigest(digest), nil
}

func valueFromDigest(digest [sha256.Size]byte) float64 {
	prefix := binary.BigEndian.Uint64(digest[:8])
	return float64(prefix>>(64-valueBits)) / float64(uint64(1)<<valueBits)
}
