// Package wire implements the byte-exact BLE GATT framing described for the
// unlock protocol: one message per frame, a one-byte type tag, fixed-width
// fields, big-endian timestamps.
package wire

import (
	"encoding/binary"
	"fmt"

	"navign/pkg/model"
)

// Tag identifies the message type carried by a frame.
type Tag byte

const (
	TagDeviceRequest  Tag = 0x01
	TagDeviceResponse Tag = 0x02
	TagNonceRequest   Tag = 0x03
	TagNonceResponse  Tag = 0x04
	TagUnlockRequest  Tag = 0x05
	TagUnlockResponse Tag = 0x06
)

// Frame lengths, tag byte included.
const (
	LenDeviceRequest  = 2
	LenDeviceResponse = 27
	LenNonceRequest   = 1
	LenNonceResponse  = 25
	LenUnlockRequest  = 105
	LenUnlockResponse = 3
)

const (
	NonceLength         = 16
	SignatureTailLength = 8
	DeviceIDLength      = 24
	ServerSigLength     = 64
	DeviceBytesLength   = 8
	VerifyBytesLength   = 8
	TimestampLength     = 8
)

const knownCapabilityMask = byte(model.CapabilityUnlockGate | model.CapabilityEnvironmentalData | model.CapabilityRssiCalibration)

// ErrorCode is the single error byte carried by UNLOCK_RESPONSE.
type ErrorCode byte

const (
	ErrNone                  ErrorCode = 0x00
	ErrInvalidSignature      ErrorCode = 0x01
	ErrInvalidKey            ErrorCode = 0x02
	ErrInvalidNonce          ErrorCode = 0x03
	ErrVerificationFailed    ErrorCode = 0x04
	ErrBufferFull            ErrorCode = 0x05
	ErrRateLimited           ErrorCode = 0x06
	ErrReplayDetected        ErrorCode = 0x07
	ErrServerPublicKeyNotSet ErrorCode = 0x08
)

// ParseError is returned for any frame that does not match the frame table:
// unknown tag, wrong length for its tag, or an undefined capability bit.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "wire: parse error: " + e.Reason }

func parseErr(format string, a ...any) error {
	return &ParseError{Reason: fmt.Sprintf(format, a...)}
}

// DeviceRequest is the segment-selector request a courier sends first.
type DeviceRequest struct {
	Segment byte
}

func (DeviceRequest) Tag() Tag { return TagDeviceRequest }

func (r DeviceRequest) Encode() []byte {
	return []byte{byte(TagDeviceRequest), r.Segment}
}

// DeviceResponse announces the beacon's type, capabilities and identity.
type DeviceResponse struct {
	DeviceType   model.DeviceType
	Capabilities byte
	DeviceID     [DeviceIDLength]byte
}

func (DeviceResponse) Tag() Tag { return TagDeviceResponse }

func (r DeviceResponse) Encode() []byte {
	buf := make([]byte, LenDeviceResponse)
	buf[0] = byte(TagDeviceResponse)
	buf[1] = byte(r.DeviceType)
	buf[2] = r.Capabilities
	copy(buf[3:27], r.DeviceID[:])
	return buf
}

// NonceRequest asks the beacon to mint a fresh nonce.
type NonceRequest struct{}

func (NonceRequest) Tag() Tag { return TagNonceRequest }

func (NonceRequest) Encode() []byte {
	return []byte{byte(TagNonceRequest)}
}

// NonceResponse carries the freshly minted nonce and the tail of the
// beacon's own signature over it, a commitment the courier can inspect.
type NonceResponse struct {
	Nonce         [NonceLength]byte
	SignatureTail [SignatureTailLength]byte
}

func (NonceResponse) Tag() Tag { return TagNonceResponse }

func (r NonceResponse) Encode() []byte {
	buf := make([]byte, LenNonceResponse)
	buf[0] = byte(TagNonceResponse)
	copy(buf[1:17], r.Nonce[:])
	copy(buf[17:25], r.SignatureTail[:])
	return buf
}

// UnlockRequest carries the 104-byte Proof payload.
type UnlockRequest struct {
	Nonce           [NonceLength]byte
	DeviceBytes     [DeviceBytesLength]byte
	VerifyBytes     [VerifyBytesLength]byte
	Timestamp       int64
	ServerSignature [ServerSigLength]byte
}

func (UnlockRequest) Tag() Tag { return TagUnlockRequest }

func (r UnlockRequest) Encode() []byte {
	buf := make([]byte, LenUnlockRequest)
	buf[0] = byte(TagUnlockRequest)
	o := 1
	copy(buf[o:o+NonceLength], r.Nonce[:])
	o += NonceLength
	copy(buf[o:o+DeviceBytesLength], r.DeviceBytes[:])
	o += DeviceBytesLength
	copy(buf[o:o+VerifyBytesLength], r.VerifyBytes[:])
	o += VerifyBytesLength
	binary.BigEndian.PutUint64(buf[o:o+TimestampLength], uint64(r.Timestamp))
	o += TimestampLength
	copy(buf[o:o+ServerSigLength], r.ServerSignature[:])
	return buf
}

// ProofBytes returns the 104-byte Proof payload (everything after the tag
// byte): nonce‖device_bytes‖verify_bytes‖timestamp_be64‖server_signature.
// This is what gets hashed into the replay-detection challenge hash.
func (r UnlockRequest) ProofBytes() []byte {
	buf := r.SignedPayload()
	return append(buf, r.ServerSignature[:]...)
}

// DecodeProof rebuilds an UnlockRequest from the 104-byte Proof payload a
// courier receives back from the server's challenge endpoint (the output of
// ProofBytes: an UNLOCK_REQUEST frame without its leading tag byte), so it
// can be re-encoded as an
// UNLOCK_REQUEST frame for the beacon.
func DecodeProof(proof []byte) (UnlockRequest, error) {
	const want = NonceLength + DeviceBytesLength + VerifyBytesLength + TimestampLength + ServerSigLength
	if len(proof) != want {
		return UnlockRequest{}, parseErr("proof: want %d bytes, got %d", want, len(proof))
	}
	var req UnlockRequest
	o := 0
	copy(req.Nonce[:], proof[o:o+NonceLength])
	o += NonceLength
	copy(req.DeviceBytes[:], proof[o:o+DeviceBytesLength])
	o += DeviceBytesLength
	copy(req.VerifyBytes[:], proof[o:o+VerifyBytesLength])
	o += VerifyBytesLength
	req.Timestamp = int64(binary.BigEndian.Uint64(proof[o : o+TimestampLength]))
	o += TimestampLength
	copy(req.ServerSignature[:], proof[o:o+ServerSigLength])
	return req, nil
}

// SignedPayload returns nonce‖device_bytes‖verify_bytes‖timestamp_be64, the
// exact byte sequence that is hashed and signed.
func (r UnlockRequest) SignedPayload() []byte {
	buf := make([]byte, 0, NonceLength+DeviceBytesLength+VerifyBytesLength+TimestampLength)
	buf = append(buf, r.Nonce[:]...)
	buf = append(buf, r.DeviceBytes[:]...)
	buf = append(buf, r.VerifyBytes[:]...)
	ts := make([]byte, TimestampLength)
	binary.BigEndian.PutUint64(ts, uint64(r.Timestamp))
	return append(buf, ts...)
}

// UnlockResponse reports the outcome of an unlock attempt.
type UnlockResponse struct {
	Success bool
	Error   ErrorCode
}

func (UnlockResponse) Tag() Tag { return TagUnlockResponse }

func (r UnlockResponse) Encode() []byte {
	success := byte(0x00)
	if r.Success {
		success = 0x01
	}
	return []byte{byte(TagUnlockResponse), success, byte(r.Error)}
}

// Decode dispatches on the leading tag byte and enforces the exact frame
// length for that tag, returning a *ParseError otherwise.
func Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, parseErr("empty frame")
	}
	tag := Tag(data[0])
	switch tag {
	case TagDeviceRequest:
		if len(data) != LenDeviceRequest {
			return nil, parseErr("device_request: want %d bytes, got %d", LenDeviceRequest, len(data))
		}
		return DeviceRequest{Segment: data[1]}, nil

	case TagDeviceResponse:
		if len(data) != LenDeviceResponse {
			return nil, parseErr("device_response: want %d bytes, got %d", LenDeviceResponse, len(data))
		}
		dt := model.DeviceType(data[1])
		if !dt.Valid() {
			return nil, parseErr("device_response: unknown device type 0x%02x", data[1])
		}
		if data[2]&^knownCapabilityMask != 0 {
			return nil, parseErr("device_response: capability bitmap has undefined bits 0x%02x", data[2])
		}
		var resp DeviceResponse
		resp.DeviceType = dt
		resp.Capabilities = data[2]
		copy(resp.DeviceID[:], data[3:27])
		return resp, nil

	case TagNonceRequest:
		if len(data) != LenNonceRequest {
			return nil, parseErr("nonce_request: want %d bytes, got %d", LenNonceRequest, len(data))
		}
		return NonceRequest{}, nil

	case TagNonceResponse:
		if len(data) != LenNonceResponse {
			return nil, parseErr("nonce_response: want %d bytes, got %d", LenNonceResponse, len(data))
		}
		var resp NonceResponse
		copy(resp.Nonce[:], data[1:17])
		copy(resp.SignatureTail[:], data[17:25])
		return resp, nil

	case TagUnlockRequest:
		if len(data) != LenUnlockRequest {
			return nil, parseErr("unlock_request: want %d bytes, got %d", LenUnlockRequest, len(data))
		}
		var req UnlockRequest
		o := 1
		copy(req.Nonce[:], data[o:o+NonceLength])
		o += NonceLength
		copy(req.DeviceBytes[:], data[o:o+DeviceBytesLength])
		o += DeviceBytesLength
		copy(req.VerifyBytes[:], data[o:o+VerifyBytesLength])
		o += VerifyBytesLength
		req.Timestamp = int64(binary.BigEndian.Uint64(data[o : o+TimestampLength]))
		o += TimestampLength
		copy(req.ServerSignature[:], data[o:o+ServerSigLength])
		return req, nil

	case TagUnlockResponse:
		if len(data) != LenUnlockResponse {
			return nil, parseErr("unlock_response: want %d bytes, got %d", LenUnlockResponse, len(data))
		}
		return UnlockResponse{
			Success: data[1] == 0x01,
			Error:   ErrorCode(data[2]),
		}, nil

	default:
		return nil, parseErr("unknown tag 0x%02x", byte(tag))
	}
}

// PacketizeCapabilities folds a set of capability bits into the single byte
// transmitted on the wire.
func PacketizeCapabilities(caps ...model.Capability) byte {
	var b byte
	for _, c := range caps {
		b |= byte(c)
	}
	return b
}

// DepacketizeCapabilities expands the capability bitmap byte back into its
// set bits.
func DepacketizeCapabilities(b byte) []model.Capability {
	var out []model.Capability
	for _, c := range []model.Capability{model.CapabilityUnlockGate, model.CapabilityEnvironmentalData, model.CapabilityRssiCalibration} {
		if b&byte(c) != 0 {
			out = append(out, c)
		}
	}
	return out
}
