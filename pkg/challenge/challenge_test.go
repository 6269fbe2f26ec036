package challenge

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"navign/pkg/cryptosign"
	"navign/pkg/model"
)

type fakeKeys struct{ key *ecdsa.PrivateKey }

func (f fakeKeys) ServerKey() *ecdsa.PrivateKey { return f.key }

type fakeAuth struct{ allow bool }

func (f fakeAuth) Authorize(context.Context, string, string) (bool, error) { return f.allow, nil }

type memStore struct {
	mu      sync.Mutex
	records map[int64]model.UnlockAttemptRecord
	used    map[string]bool
	nextID  int64
}

func newMemStore() *memStore {
	return &memStore{records: map[int64]model.UnlockAttemptRecord{}, used: map[string]bool{}}
}

func (s *memStore) Create(_ context.Context, rec model.UnlockAttemptRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.records[s.nextID] = rec
	return s.nextID, nil
}

func (s *memStore) AdvanceStage(_ context.Context, id int64, stage model.AttemptStage, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[id]
	rec.Stage = stage
	rec.Outcome = outcome
	s.records[id] = rec
	return nil
}

func (s *memStore) WasNonceUsed(_ context.Context, beaconID string, nonce [16]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used[key(beaconID, nonce)], nil
}

func (s *memStore) MarkNonceUsed(_ context.Context, beaconID string, nonce [16]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used[key(beaconID, nonce)] = true
	return nil
}

func key(beaconID string, nonce [16]byte) string {
	return beaconID + string(nonce[:])
}

func TestIssueUnlockChallengeHappyPath(t *testing.T) {
	key, err := cryptosign.GenerateKey()
	require.NoError(t, err)

	svc := New(fakeKeys{key: key}, fakeAuth{allow: true}, newMemStore())
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }

	var nonce [16]byte
	nonce[0] = 0x42
	var deviceBytes [8]byte

	req, err := svc.IssueUnlockChallenge(context.Background(), "user1", "beacon1", nonce, deviceBytes, time.Unix(1700000000, 0))
	require.NoError(t, err)
	require.Equal(t, nonce, req.Nonce)
	require.True(t, cryptosign.Verify(&key.PublicKey, req.SignedPayload(), req.ServerSignature))
}

func TestIssueUnlockChallengeRejectsExpiredRequest(t *testing.T) {
	key, err := cryptosign.GenerateKey()
	require.NoError(t, err)
	svc := New(fakeKeys{key: key}, fakeAuth{allow: true}, newMemStore())
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }

	var nonce [16]byte
	_, err = svc.IssueUnlockChallenge(context.Background(), "user1", "beacon1", nonce, [8]byte{}, time.Unix(1699999000, 0))
	require.ErrorIs(t, err, ErrRequestExpired)
}

func TestIssueUnlockChallengeRejectsUnauthorized(t *testing.T) {
	key, err := cryptosign.GenerateKey()
	require.NoError(t, err)
	svc := New(fakeKeys{key: key}, fakeAuth{allow: false}, newMemStore())
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }

	var nonce [16]byte
	_, err = svc.IssueUnlockChallenge(context.Background(), "user1", "beacon1", nonce, [8]byte{}, time.Unix(1700000000, 0))
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestIssueUnlockChallengeSingleUse(t *testing.T) {
	key, err := cryptosign.GenerateKey()
	require.NoError(t, err)
	svc := New(fakeKeys{key: key}, fakeAuth{allow: true}, newMemStore())
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }

	var nonce [16]byte
	nonce[0] = 0x07

	_, err = svc.IssueUnlockChallenge(context.Background(), "user1", "beacon1", nonce, [8]byte{}, time.Unix(1700000000, 0))
	require.NoError(t, err)

	_, err = svc.IssueUnlockChallenge(context.Background(), "user1", "beacon1", nonce, [8]byte{}, time.Unix(1700000000, 0))
	require.ErrorIs(t, err, ErrAlreadyUsed)
}
