package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "-", Fingerprint(""))
	assert.Len(t, Fingerprint("v=0\r\n"), 8)
	assert.Equal(t, Fingerprint("o1"), Fingerprint("o1"))
	assert.NotEqual(t, Fingerprint("o1"), Fingerprint("o2"))
}

func TestSnapshotDelta(t *testing.T) {
	prev := Snapshot{OffersSent: 2, Failures: 1}
	cur := Snapshot{OffersSent: 5, Failures: 1, CandidatesAdded: 3}

	delta := cur.Sub(prev)
	assert.Equal(t, Snapshot{OffersSent: 3, CandidatesAdded: 3}, delta)
	assert.False(t, delta.IsZero())
	assert.True(t, cur.Sub(cur).IsZero())
}

func TestFormatStats(t *testing.T) {
	line := formatStats(Snapshot{OffersSent: 1, CollisionsDeferred: 1, Failures: 2})
	assert.Contains(t, line, "Offer:  1↑")
	assert.Contains(t, line, " 1 yielded")
	assert.Contains(t, line, "Fail: 2")
}
