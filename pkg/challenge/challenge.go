// Package challenge implements the server-side challenge issuance service:
// sign a Proof on behalf of an authorized user, record the attempt, and
// refuse reissuance for an already-used beacon nonce.
package challenge

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"time"

	"navign/pkg/cryptosign"
	"navign/pkg/model"
	"navign/pkg/wire"
)

// Errors returned by IssueUnlockChallenge.
var (
	ErrRequestExpired = errors.New("challenge: request timestamp outside tolerance")
	ErrUnauthorized   = errors.New("challenge: user is not authorized for this beacon")
	ErrAlreadyUsed    = errors.New("challenge: beacon nonce already used for a challenge")
)

const requestTimestampSkew = 300 * time.Second

// KeyProvider hands back the server's P-256 private key, loaded once at
// startup and never replaced.
type KeyProvider interface {
	ServerKey() *ecdsa.PrivateKey
}

// Authorizer decides whether a user may unlock a given beacon. Production
// wires this to an external ACL/auth collaborator; tests fake it.
type Authorizer interface {
	Authorize(ctx context.Context, userID, beaconID string) (bool, error)
}

// ChallengeStore persists Unlock Attempt Records and enforces that a Proof
// is single-use by beacon nonce.
type ChallengeStore interface {
	// Create appends a new attempt record in stage Initiated and returns its
	// storage id.
	Create(ctx context.Context, rec model.UnlockAttemptRecord) (int64, error)
	// AdvanceStage updates an existing record's stage and outcome in place.
	AdvanceStage(ctx context.Context, id int64, stage model.AttemptStage, outcome string) error
	// WasNonceUsed reports whether a challenge has already been issued for
	// beaconID+nonce, enforcing single-use Proofs.
	WasNonceUsed(ctx context.Context, beaconID string, nonce [16]byte) (bool, error)
	// MarkNonceUsed records that a challenge was issued for this
	// beaconID+nonce pair.
	MarkNonceUsed(ctx context.Context, beaconID string, nonce [16]byte) error
}

// Service issues signed challenges and keeps the audit trail current.
type Service struct {
	keys  KeyProvider
	auth  Authorizer
	store ChallengeStore
	now   func() time.Time
}

// New builds a Service.
func New(keys KeyProvider, auth Authorizer, store ChallengeStore) *Service {
	return &Service{keys: keys, auth: auth, store: store, now: time.Now}
}

// IssueUnlockChallenge checks the request timestamp and the user's
// authorization, records the attempt, signs the Proof, and marks the beacon
// nonce spent so the challenge cannot be reissued.
func (s *Service) IssueUnlockChallenge(ctx context.Context, userID, beaconID string, beaconNonce [16]byte, deviceBytes [8]byte, requestTimestamp time.Time) (wire.UnlockRequest, error) {
	now := s.now()
	skew := now.Sub(requestTimestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > requestTimestampSkew {
		return wire.UnlockRequest{}, ErrRequestExpired
	}

	ok, err := s.auth.Authorize(ctx, userID, beaconID)
	if err != nil {
		return wire.UnlockRequest{}, err
	}
	if !ok {
		return wire.UnlockRequest{}, ErrUnauthorized
	}

	used, err := s.store.WasNonceUsed(ctx, beaconID, beaconNonce)
	if err != nil {
		return wire.UnlockRequest{}, err
	}
	if used {
		return wire.UnlockRequest{}, ErrAlreadyUsed
	}

	rec := model.UnlockAttemptRecord{
		BeaconID:       beaconID,
		UserID:         userID,
		DeviceBytes:    deviceBytes,
		Timestamp:      now,
		BeaconNonce:    beaconNonce,
		ChallengeNonce: beaconNonce,
		Stage:          model.StageInitiated,
		AuthType:       model.AuthBLE,
	}
	id, err := s.store.Create(ctx, rec)
	if err != nil {
		return wire.UnlockRequest{}, err
	}

	signer, err := cryptosign.NewSigner(s.keys.ServerKey())
	if err != nil {
		return wire.UnlockRequest{}, err
	}

	var verifyBytes [8]byte
	verifySig, err := signer.Sign(beaconNonce[:])
	if err != nil {
		return wire.UnlockRequest{}, err
	}
	copy(verifyBytes[:], verifySig[len(verifySig)-8:])

	req := wire.UnlockRequest{
		Nonce:       beaconNonce,
		DeviceBytes: deviceBytes,
		VerifyBytes: verifyBytes,
		Timestamp:   now.Unix(),
	}
	sig, err := signer.Sign(req.SignedPayload())
	if err != nil {
		return wire.UnlockRequest{}, err
	}
	req.ServerSignature = sig

	if err := s.store.MarkNonceUsed(ctx, beaconID, beaconNonce); err != nil {
		return wire.UnlockRequest{}, err
	}
	if err := s.store.AdvanceStage(ctx, id, model.StageVerified, "challenge issued"); err != nil {
		return wire.UnlockRequest{}, err
	}

	return req, nil
}
