// Package beacon implements the beacon-side unlock state machine: a
// single-threaded, cooperative transition table driving one BLE session
// from advertising to actuation or failure.
package beacon

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/go-logr/logr"

	"navign/pkg/cryptosign"
	"navign/pkg/model"
	"navign/pkg/noncemgr"
	"navign/pkg/wire"
)

// State is one node of the beacon's transition table.
type State int

const (
	StateAdvertising State = iota
	StateConnected
	StateDeviceAnnounced
	StateNonceIssued
	StateVerifying
	StateUnlocked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAdvertising:
		return "advertising"
	case StateConnected:
		return "connected"
	case StateDeviceAnnounced:
		return "device_announced"
	case StateNonceIssued:
		return "nonce_issued"
	case StateVerifying:
		return "verifying"
	case StateUnlocked:
		return "unlocked"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	rateLimitWindow = 5 * time.Second
	rateLimitMax    = 5
	clockSkew       = 300 * time.Second
)

// ErrRateLimited reports that the session has exhausted its attempt window.
// No response frame is defined for a refused NONCE_REQUEST; the error code
// surfaces in the next UNLOCK_RESPONSE instead.
var ErrRateLimited = errors.New("beacon: rate limited")

// Actuator pulses the physical lock hardware. The pulse duration is
// hardware-defined and out of scope here; Actuate simply fires it.
type Actuator interface {
	Actuate() error
}

// Machine is one beacon's unlock session state. It is not safe for
// concurrent use — the contract is one BLE session at a time, driven from a
// single goroutine.
type Machine struct {
	DeviceID     [wire.DeviceIDLength]byte
	DeviceType   model.DeviceType
	Capabilities byte

	signer       *cryptosign.Signer
	serverPubKey *ecdsa.PublicKey
	actuator     Actuator
	log          logr.Logger
	now          func() time.Time

	state            State
	nonces           *noncemgr.Manager
	outstandingNonce [16]byte
	attempts         []time.Time
}

// New builds a Machine for one beacon. signer is the beacon's own key,
// used to produce the NONCE_RESPONSE signature tail.
func New(deviceID [wire.DeviceIDLength]byte, deviceType model.DeviceType, capabilities byte, signer *cryptosign.Signer, actuator Actuator, log logr.Logger) *Machine {
	return &Machine{
		DeviceID:     deviceID,
		DeviceType:   deviceType,
		Capabilities: capabilities,
		signer:       signer,
		actuator:     actuator,
		log:          log,
		now:          time.Now,
		state:        StateAdvertising,
		nonces:       noncemgr.New(),
	}
}

// SetServerPublicKey installs the server's public key, required before any
// UNLOCK_REQUEST can be verified.
func (m *Machine) SetServerPublicKey(pub *ecdsa.PublicKey) {
	m.serverPubKey = pub
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// HandleConnect transitions Advertising -> Connected on central attach. A
// fresh physical BLE connection gets a clean nonce history and rate-limit
// window: both are scoped to the BLE session, not the process.
func (m *Machine) HandleConnect() {
	m.state = StateConnected
	m.nonces = noncemgr.New()
	m.attempts = nil
}

// HandleDisconnect drops the session and returns to Advertising. Dropping a
// BLE session on either side is safe and leaves no dangling state.
func (m *Machine) HandleDisconnect() {
	m.state = StateAdvertising
	m.nonces = noncemgr.New()
	m.attempts = nil
}

// returnToAdvertising follows an Unlocked or Failed outcome: the protocol
// state resets, but the nonce history and rate-limit window carry on
// within the same physical BLE connection, so repeated attempts on one
// connection are still bounded by the 5-per-5s window.
func (m *Machine) returnToAdvertising() {
	m.state = StateAdvertising
}

// HandleDeviceRequest replies with DEVICE_RESPONSE, transitioning
// Connected -> DeviceAnnounced.
func (m *Machine) HandleDeviceRequest(wire.DeviceRequest) (wire.DeviceResponse, error) {
	if m.state != StateConnected {
		return wire.DeviceResponse{}, errOutOfOrder(m.state, StateConnected)
	}
	m.state = StateDeviceAnnounced
	return wire.DeviceResponse{
		DeviceType:   m.DeviceType,
		Capabilities: m.Capabilities,
		DeviceID:     m.DeviceID,
	}, nil
}

// HandleNonceRequest generates a fresh nonce, transitions
// DeviceAnnounced -> NonceIssued, and returns the nonce plus the tail of
// the beacon's own signature over it. A repeat request in NonceIssued
// replaces the outstanding nonce; every issuance consumes one slot of the
// session's attempt window.
func (m *Machine) HandleNonceRequest(wire.NonceRequest) (wire.NonceResponse, error) {
	if m.state != StateDeviceAnnounced && m.state != StateNonceIssued {
		return wire.NonceResponse{}, errOutOfOrder(m.state, StateDeviceAnnounced)
	}
	if !m.checkRateLimit(m.now()) {
		return wire.NonceResponse{}, ErrRateLimited
	}

	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return wire.NonceResponse{}, err
	}

	sig, err := m.signer.Sign(nonce[:])
	if err != nil {
		return wire.NonceResponse{}, err
	}

	m.outstandingNonce = nonce
	m.state = StateNonceIssued

	var resp wire.NonceResponse
	resp.Nonce = nonce
	copy(resp.SignatureTail[:], sig[len(sig)-wire.SignatureTailLength:])
	return resp, nil
}

// HandleUnlockRequest runs the Verifying checks in order and returns the
// outcome, transitioning to Unlocked or Failed and then immediately back
// to Advertising.
func (m *Machine) HandleUnlockRequest(req wire.UnlockRequest) wire.UnlockResponse {
	wasNonceIssued := m.state == StateNonceIssued
	m.state = StateVerifying
	resp := m.verify(req, wasNonceIssued)
	if resp.Success {
		m.state = StateUnlocked
		if m.actuator != nil {
			if err := m.actuator.Actuate(); err != nil {
				m.log.Error(err, "actuator failed after successful verification")
			}
		}
	} else {
		m.state = StateFailed
	}
	m.returnToAdvertising()
	return resp
}

func (m *Machine) verify(req wire.UnlockRequest, wasNonceIssued bool) wire.UnlockResponse {
	if !wasNonceIssued {
		return wire.UnlockResponse{Success: false, Error: wire.ErrVerificationFailed}
	}

	now := m.now()

	if !m.checkRateLimit(now) {
		return wire.UnlockResponse{Success: false, Error: wire.ErrRateLimited}
	}

	if req.Nonce != m.outstandingNonce {
		return wire.UnlockResponse{Success: false, Error: wire.ErrInvalidNonce}
	}
	if !m.nonces.CheckAndMarkNonce(req.Nonce, now) {
		return wire.UnlockResponse{Success: false, Error: wire.ErrReplayDetected}
	}

	reqTime := time.Unix(req.Timestamp, 0)
	skew := now.Sub(reqTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > clockSkew {
		return wire.UnlockResponse{Success: false, Error: wire.ErrVerificationFailed}
	}

	if m.serverPubKey == nil {
		return wire.UnlockResponse{Success: false, Error: wire.ErrServerPublicKeyNotSet}
	}

	if !cryptosign.Verify(m.serverPubKey, req.SignedPayload(), req.ServerSignature) {
		return wire.UnlockResponse{Success: false, Error: wire.ErrInvalidSignature}
	}

	challengeHash := sha256.Sum256(req.ProofBytes())
	if !m.nonces.CheckAndMarkChallengeHash(challengeHash, now) {
		return wire.UnlockResponse{Success: false, Error: wire.ErrReplayDetected}
	}

	return wire.UnlockResponse{Success: true, Error: wire.ErrNone}
}

// checkRateLimit evicts attempts older than rateLimitWindow and reports
// whether a new attempt is admitted, recording it if so.
func (m *Machine) checkRateLimit(now time.Time) bool {
	kept := m.attempts[:0]
	for _, t := range m.attempts {
		if now.Sub(t) <= rateLimitWindow {
			kept = append(kept, t)
		}
	}
	m.attempts = kept
	if len(m.attempts) >= rateLimitMax {
		return false
	}
	m.attempts = append(m.attempts, now)
	return true
}

type stateError struct {
	have, want State
}

func (e *stateError) Error() string {
	return "beacon: expected state " + e.want.String() + ", have " + e.have.String()
}

func errOutOfOrder(have, want State) error {
	return &stateError{have: have, want: want}
}
