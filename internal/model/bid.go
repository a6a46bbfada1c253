package model

import (
	"encoding/base32"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BID is an opaque, time-ordered Bundle Identifier: a millisecond-precision
// creation-timestamp prefix followed by random bits, so lexicographic order
// approximates chronological order. BIDs are immutable once minted.
type BID string

// encoding uses the extended-hex base32 alphabet (0-9, then a-v once
// lowercased), whose character order matches ASCII order, so the encoded
// big-endian timestamp sorts the same way as the number it encodes.
var encoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// NewBID mints a BID using the current wall-clock time. Like
// uuid.New(), it never returns an error: the only way uuid.New() can fail
// is crypto/rand.Read failing on this platform, which panics rather than
// threading an error through every call site that mints an ID.
func NewBID() BID {
	return newBIDAt(time.Now())
}

func newBIDAt(t time.Time) BID {
	ms := t.UTC().UnixMilli()

	// uuid.New() draws 16 random bytes from crypto/rand; the BID only
	// needs 10 of them to keep the fixed-width encoding short.
	random := uuid.New()

	// 13 base32 chars encode all 8 bytes of the millisecond timestamp,
	// giving a stable-width, sortable prefix.
	tsPart := encodeTimestamp(ms)
	randPart := strings.ToLower(encoding.EncodeToString(random[:10]))

	return BID(tsPart + randPart)
}

func encodeTimestamp(ms int64) string {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(ms & 0xff)
		ms >>= 8
	}
	return strings.ToLower(encoding.EncodeToString(buf))
}

func (b BID) String() string { return string(b) }

// IsZero reports whether the BID is unset.
func (b BID) IsZero() bool { return b == "" }
