package noncemgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckAndMarkNonceRejectsReplay(t *testing.T) {
	m := New()
	now := time.Now()
	var n [16]byte
	n[0] = 0x42

	require.True(t, m.CheckAndMarkNonce(n, now))
	require.False(t, m.CheckAndMarkNonce(n, now.Add(time.Second)))
}

func TestCheckAndMarkNonceExpiresAfterWindow(t *testing.T) {
	m := New()
	now := time.Now()
	var n [16]byte
	n[0] = 0x07

	require.True(t, m.CheckAndMarkNonce(n, now))
	require.True(t, m.CheckAndMarkNonce(n, now.Add(Window+time.Millisecond)))
}

func TestCheckAndMarkNonceCapacityEviction(t *testing.T) {
	m := New()
	now := time.Now()

	for i := 0; i < Capacity; i++ {
		var n [16]byte
		n[0] = byte(i)
		require.True(t, m.CheckAndMarkNonce(n, now))
	}

	// Capacity reached; inserting one more should evict the oldest (n[0]=0),
	// which should then be accepted again as "new".
	var fresh [16]byte
	fresh[0] = 0xFF
	require.True(t, m.CheckAndMarkNonce(fresh, now))

	var evicted [16]byte
	evicted[0] = 0x00
	require.True(t, m.CheckAndMarkNonce(evicted, now))
}

func TestCheckAndMarkChallengeHashIndependentOfNonces(t *testing.T) {
	m := New()
	now := time.Now()
	var n [16]byte
	n[0] = 0x01
	var h [32]byte
	h[0] = 0x01

	require.True(t, m.CheckAndMarkNonce(n, now))
	require.True(t, m.CheckAndMarkChallengeHash(h, now))
	require.False(t, m.CheckAndMarkChallengeHash(h, now))
}
