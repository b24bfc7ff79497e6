package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator hands out ULIDs stamped with caller supplied times. Two
// generators built with the same seed and fed the same times produce the
// same identifiers, which keeps backtest artifacts reproducible.
type Generator struct {
	mu   sync.Mutex
	mono io.Reader
}

// NewGenerator returns a deterministic generator.
func NewGenerator(seed int64) *Generator {
	return &Generator{mono: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)}
}

// NewRandom seeds a generator from crypto/rand.
func NewRandom() *Generator {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return NewGenerator(seed)
}

// At returns a ULID whose timestamp part is ts.
func (g *Generator) At(ts time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(ts.UTC()), g.mono)
	if err != nil {
		// Only fails for times past year 10889 or on entropy exhaustion.
		panic(err)
	}
	return id.String()
}

var std = NewRandom()

// New returns a ULID string (time-sortable identifier) for the current time.
func New() string {
	return std.At(time.Now())
}

// Time extracts the timestamp of a ULID string.
func Time(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()).UTC(), nil
}
