package source

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// SegmentID names a segment file: a 48-bit millisecond timestamp followed by
// 80 random bits, rendered as 26 Crockford base32 characters. IDs from one
// generator sort in generation order, so ListSegments returns segments in
// the order they were written.
type SegmentID [16]byte

const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// SegmentIDGenerator hands out strictly increasing segment IDs.
type SegmentIDGenerator struct {
	mu            sync.Mutex
	started       bool
	lastTimestamp uint64
	lastRandom    [10]byte
}

// NewSegmentIDGenerator creates a generator.
func NewSegmentIDGenerator() *SegmentIDGenerator {
	return &SegmentIDGenerator{}
}

// Next returns an ID stamped with the current time.
func (g *SegmentIDGenerator) Next() (SegmentID, error) {
	return g.NextAt(time.Now())
}

// NextAt returns an ID stamped with t. Within one millisecond, or when t is
// earlier than the previous stamp, the random part is incremented instead.
func (g *SegmentIDGenerator) NextAt(t time.Time) (SegmentID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := uint64(t.UnixMilli()) & (1<<48 - 1)
	if g.started && ts <= g.lastTimestamp {
		ts = g.lastTimestamp
		for i := len(g.lastRandom) - 1; i >= 0; i-- {
			g.lastRandom[i]++
			if g.lastRandom[i] != 0 {
				break
			}
		}
	} else {
		if _, err := rand.Read(g.lastRandom[:]); err != nil {
			return SegmentID{}, fmt.Errorf("segment id: %w", err)
		}
		// top bit clear leaves room to increment within the millisecond
		g.lastRandom[0] &= 0x7f
		g.lastTimestamp = ts
		g.started = true
	}

	var id SegmentID
	for i := 0; i < 6; i++ {
		id[i] = byte(ts >> (40 - 8*i))
	}
	copy(id[6:], g.lastRandom[:])
	return id, nil
}

// Timestamp returns the generation time in Unix milliseconds.
func (id SegmentID) Timestamp() uint64 {
	var ts uint64
	for i := 0; i < 6; i++ {
		ts = ts<<8 | uint64(id[i])
	}
	return ts
}

// Time returns the generation time.
func (id SegmentID) Time() time.Time {
	return time.UnixMilli(int64(id.Timestamp()))
}

// String encodes the 128 bits, most significant first, as 26 characters;
// the first character carries two leading zero bits.
func (id SegmentID) String() string {
	var buf [26]byte
	for i := range buf {
		buf[i] = crockfordBase32[id.bits(5*i-2)]
	}
	return string(buf[:])
}

// FileName is the segment file name for id.
func (id SegmentID) FileName() string {
	return id.String() + SegmentExt
}

// bits reads five bits starting at bit offset start. Negative offsets read
// as zero.
func (id SegmentID) bits(start int) byte {
	var v byte
	for b := start; b < start+5; b++ {
		v <<= 1
		if b >= 0 && id[b/8]>>(7-b%8)&1 == 1 {
			v |= 1
		}
	}
	return v
}

// ParseSegmentID decodes the output of SegmentID.String. Lower case is
// accepted.
func ParseSegmentID(s string) (SegmentID, error) {
	var id SegmentID
	if len(s) != 26 {
		return id, fmt.Errorf("segment id %q: want 26 characters, got %d", s, len(s))
	}
	for i := 0; i < len(s); i++ {
		v, ok := decodeBase32(s[i])
		if !ok {
			return SegmentID{}, fmt.Errorf("segment id %q: invalid character %q", s, s[i])
		}
		if i == 0 && v > 7 {
			return SegmentID{}, fmt.Errorf("segment id %q: overflows 128 bits", s)
		}
		for j := 0; j < 5; j++ {
			b := 5*i - 2 + j
			if b >= 0 && v>>(4-j)&1 == 1 {
				id[b/8] |= 1 << (7 - b%8)
			}
		}
	}
	return id, nil
}

func decodeBase32(c byte) (byte, bool) {
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	for i := 0; i < len(crockfordBase32); i++ {
		if crockfordBase32[i] == c {
			return byte(i), true
		}
	}
	return 0, false
}
