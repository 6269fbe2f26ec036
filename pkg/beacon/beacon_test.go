package beacon

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"navign/pkg/cryptosign"
	"navign/pkg/model"
	"navign/pkg/wire"
)

type noopActuator struct{ pulses int }

func (a *noopActuator) Actuate() error { a.pulses++; return nil }

func newTestMachine(t *testing.T) (*Machine, *cryptosign.Signer) {
	t.Helper()
	beaconKey, err := cryptosign.GenerateKey()
	require.NoError(t, err)
	beaconSigner, err := cryptosign.NewSigner(beaconKey)
	require.NoError(t, err)

	serverKey, err := cryptosign.GenerateKey()
	require.NoError(t, err)
	serverSigner, err := cryptosign.NewSigner(serverKey)
	require.NoError(t, err)

	var deviceID [24]byte
	for i := range deviceID {
		deviceID[i] = byte(i)
	}

	m := New(deviceID, model.DeviceTurnstile, wire.PacketizeCapabilities(model.CapabilityUnlockGate), beaconSigner, &noopActuator{}, logr.Discard())
	m.SetServerPublicKey(&serverKey.PublicKey)
	return m, serverSigner
}

func driveToNonceIssued(t *testing.T, m *Machine) wire.NonceResponse {
	t.Helper()
	m.HandleConnect()
	_, err := m.HandleDeviceRequest(wire.DeviceRequest{Segment: 0})
	require.NoError(t, err)
	resp, err := m.HandleNonceRequest(wire.NonceRequest{})
	require.NoError(t, err)
	return resp
}

func buildUnlockRequest(t *testing.T, serverSigner *cryptosign.Signer, nonce [16]byte, deviceBytes [8]byte, ts int64) wire.UnlockRequest {
	t.Helper()
	req := wire.UnlockRequest{
		Nonce:       nonce,
		DeviceBytes: deviceBytes,
		Timestamp:   ts,
	}
	for i := range req.VerifyBytes {
		req.VerifyBytes[i] = 0x55
	}
	sig, err := serverSigner.Sign(req.SignedPayload())
	require.NoError(t, err)
	req.ServerSignature = sig
	return req
}

func TestHappyUnlockPath(t *testing.T) {
	m, serverSigner := newTestMachine(t)
	m.now = func() time.Time { return time.Unix(1700000000, 0) }

	nonceResp := driveToNonceIssued(t, m)
	var deviceBytes [8]byte
	copy(deviceBytes[:], m.DeviceID[:8])

	req := buildUnlockRequest(t, serverSigner, nonceResp.Nonce, deviceBytes, 1700000000)
	resp := m.HandleUnlockRequest(req)

	require.True(t, resp.Success)
	require.Equal(t, wire.ErrNone, resp.Error)
	require.Equal(t, []byte{0x06, 0x01, 0x00}, resp.Encode())
	require.Equal(t, StateAdvertising, m.State())
}

func TestReplayRejection(t *testing.T) {
	m, serverSigner := newTestMachine(t)
	m.now = func() time.Time { return time.Unix(1700000000, 0) }

	var deviceBytes [8]byte
	copy(deviceBytes[:], m.DeviceID[:8])

	nonceResp := driveToNonceIssued(t, m)
	req := buildUnlockRequest(t, serverSigner, nonceResp.Nonce, deviceBytes, 1700000000)
	first := m.HandleUnlockRequest(req)
	require.True(t, first.Success)

	// Re-present the identical UNLOCK_REQUEST bytes within the same session:
	// the nonce manager has already marked this nonce, so a second
	// presentation is rejected as a replay even if the FSM is put back in
	// NonceIssued for the retry.
	m.state = StateNonceIssued
	m.outstandingNonce = req.Nonce
	replay := m.HandleUnlockRequest(req)
	require.False(t, replay.Success)
	require.Equal(t, wire.ErrReplayDetected, replay.Error)
	require.Equal(t, []byte{0x06, 0x00, 0x07}, replay.Encode())
}

func TestRateLimitSixthAttemptRejected(t *testing.T) {
	m, _ := newTestMachine(t)
	fixedNow := time.Unix(1700000000, 0)

	for i := 0; i < rateLimitMax; i++ {
		require.True(t, m.checkRateLimit(fixedNow), "attempt %d should be admitted", i+1)
	}
	require.False(t, m.checkRateLimit(fixedNow), "6th attempt within the window must be rejected")
}

func TestRateLimitWindowExpires(t *testing.T) {
	m, _ := newTestMachine(t)
	start := time.Unix(1700000000, 0)

	for i := 0; i < rateLimitMax; i++ {
		require.True(t, m.checkRateLimit(start))
	}
	require.False(t, m.checkRateLimit(start))
	require.True(t, m.checkRateLimit(start.Add(rateLimitWindow+time.Millisecond)))
}

func TestSixthNonceRequestRateLimited(t *testing.T) {
	m, serverSigner := newTestMachine(t)
	now := time.Unix(1700000000, 0)
	m.now = func() time.Time { return now }

	m.HandleConnect()
	_, err := m.HandleDeviceRequest(wire.DeviceRequest{Segment: 0})
	require.NoError(t, err)

	var last wire.NonceResponse
	for i := 0; i < rateLimitMax; i++ {
		last, err = m.HandleNonceRequest(wire.NonceRequest{})
		require.NoError(t, err, "nonce request %d should be admitted", i+1)
	}
	_, err = m.HandleNonceRequest(wire.NonceRequest{})
	require.ErrorIs(t, err, ErrRateLimited)

	// The window is exhausted, so the follow-up unlock carries the rate
	// limit error code even though the proof itself is well-formed.
	var deviceBytes [8]byte
	copy(deviceBytes[:], m.DeviceID[:8])
	req := buildUnlockRequest(t, serverSigner, last.Nonce, deviceBytes, now.Unix())
	resp := m.HandleUnlockRequest(req)
	require.False(t, resp.Success)
	require.Equal(t, wire.ErrRateLimited, resp.Error)
	require.Equal(t, []byte{0x06, 0x00, 0x06}, resp.Encode())
}

func TestTimestampSkewBoundary(t *testing.T) {
	m, serverSigner := newTestMachine(t)
	now := time.Unix(1700000000, 0)
	m.now = func() time.Time { return now }

	var deviceBytes [8]byte
	copy(deviceBytes[:], m.DeviceID[:8])

	nonceResp := driveToNonceIssued(t, m)
	req := buildUnlockRequest(t, serverSigner, nonceResp.Nonce, deviceBytes, now.Add(-clockSkew).Unix())
	require.True(t, m.HandleUnlockRequest(req).Success, "timestamp exactly at the skew boundary is accepted")

	nonceResp = driveToNonceIssued(t, m)
	req = buildUnlockRequest(t, serverSigner, nonceResp.Nonce, deviceBytes, now.Add(-clockSkew-time.Second).Unix())
	resp := m.HandleUnlockRequest(req)
	require.False(t, resp.Success)
	require.Equal(t, wire.ErrVerificationFailed, resp.Error)
}

func TestUnlockWithoutServerPublicKey(t *testing.T) {
	m, serverSigner := newTestMachine(t)
	m.now = func() time.Time { return time.Unix(1700000000, 0) }
	m.serverPubKey = nil

	var deviceBytes [8]byte
	nonceResp := driveToNonceIssued(t, m)
	req := buildUnlockRequest(t, serverSigner, nonceResp.Nonce, deviceBytes, 1700000000)
	resp := m.HandleUnlockRequest(req)
	require.False(t, resp.Success)
	require.Equal(t, wire.ErrServerPublicKeyNotSet, resp.Error)
}

func TestUnlockResponseEncodingIsNotInverted(t *testing.T) {
	failure := wire.UnlockResponse{Success: false, Error: wire.ErrInvalidSignature}
	require.Equal(t, byte(0x00), failure.Encode()[1])

	success := wire.UnlockResponse{Success: true, Error: wire.ErrNone}
	require.Equal(t, byte(0x01), success.Encode()[1])
}

func TestOutOfOrderDeviceRequestFails(t *testing.T) {
	m, _ := newTestMachine(t)
	_, err := m.HandleDeviceRequest(wire.DeviceRequest{Segment: 0})
	require.Error(t, err)
}
