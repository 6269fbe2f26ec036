// Package courier is the mobile-side BLE central: it drives the
// single-characteristic unlock handshake over go-ble/ble, serializing GATT
// writes and correlating notify responses by wire tag.
package courier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-ble/ble"

	"navign/pkg/wire"
)

// ServiceUUID and CharUUID are the fixed GATT identifiers every Navign
// beacon advertises.
var (
	ServiceUUID = ble.MustParse("134b1d88cd9181343e945c4052743845")
	CharUUID    = ble.MustParse("99d928239e3872ff6cf1d2d593316af8")
)

// GATTTimeout bounds a single request/response round-trip.
const GATTTimeout = 5 * time.Second

// BeaconName is the advertised local name every Navign beacon carries.
const BeaconName = "NAVIGN_BEACON"

// Discovered is one advertising beacon seen during a scan.
type Discovered struct {
	Addr ble.Addr
	RSSI int
}

// Scan collects advertising Navign beacons for the given duration, filtered
// by advertised name and sorted strongest-RSSI first. A beacon seen more
// than once keeps its strongest reading.
func Scan(ctx context.Context, duration time.Duration) ([]Discovered, error) {
	scanCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var mu sync.Mutex
	found := make(map[string]Discovered)
	handler := func(a ble.Advertisement) {
		mu.Lock()
		defer mu.Unlock()
		key := a.Addr().String()
		if seen, ok := found[key]; !ok || a.RSSI() > seen.RSSI {
			found[key] = Discovered{Addr: a.Addr(), RSSI: a.RSSI()}
		}
	}
	filter := func(a ble.Advertisement) bool {
		return a.LocalName() == BeaconName
	}

	err := ble.Scan(scanCtx, false, handler, filter)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("courier: scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]Discovered, 0, len(found))
	for _, d := range found {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RSSI > out[j].RSSI })
	return out, nil
}

// Courier drives one BLE session against one beacon, from connect through
// DEVICE_REQUEST/NONCE_REQUEST/UNLOCK_REQUEST to disconnect.
type Courier struct {
	client ble.Client
	char   *ble.Characteristic

	mu      sync.Mutex
	pending chan []byte
}

// Connect dials addr, discovers the Navign characteristic and subscribes
// to its notifications.
func Connect(ctx context.Context, addr ble.Addr) (*Courier, error) {
	client, err := ble.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("courier: dial: %w", err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		return nil, fmt.Errorf("courier: discover profile: %w", err)
	}

	char := findCharacteristic(profile, ServiceUUID, CharUUID)
	if char == nil {
		client.CancelConnection()
		return nil, fmt.Errorf("courier: navign characteristic not found")
	}

	c := &Courier{client: client, char: char, pending: make(chan []byte, 1)}

	if err := client.Subscribe(char, false, c.onNotify); err != nil {
		client.CancelConnection()
		return nil, fmt.Errorf("courier: subscribe: %w", err)
	}

	return c, nil
}

func findCharacteristic(profile *ble.Profile, svcUUID, charUUID ble.UUID) *ble.Characteristic {
	for _, svc := range profile.Services {
		if !svc.UUID.Equal(svcUUID) {
			continue
		}
		for _, char := range svc.Characteristics {
			if char.UUID.Equal(charUUID) {
				return char
			}
		}
	}
	return nil
}

func (c *Courier) onNotify(data []byte) {
	frame := append([]byte(nil), data...)
	select {
	case c.pending <- frame:
	default:
		// Drop a stray notification nobody is waiting for; the protocol's
		// strict request/response ordering means this only happens on a
		// misbehaving beacon.
	}
}

// roundTrip writes req and waits for the next notification, bounded by
// GATTTimeout.
func (c *Courier) roundTrip(ctx context.Context, req []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, GATTTimeout)
	defer cancel()

	if err := c.client.WriteCharacteristic(c.char, req, false); err != nil {
		return nil, fmt.Errorf("courier: write: %w", err)
	}

	select {
	case frame := <-c.pending:
		return frame, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("courier: timed out waiting for response: %w", ctx.Err())
	}
}

// AnnounceDevice sends DEVICE_REQUEST and returns the decoded
// DEVICE_RESPONSE.
func (c *Courier) AnnounceDevice(ctx context.Context, segment byte) (wire.DeviceResponse, error) {
	frame, err := c.roundTrip(ctx, wire.DeviceRequest{Segment: segment}.Encode())
	if err != nil {
		return wire.DeviceResponse{}, err
	}
	msg, err := wire.Decode(frame)
	if err != nil {
		return wire.DeviceResponse{}, err
	}
	resp, ok := msg.(wire.DeviceResponse)
	if !ok {
		return wire.DeviceResponse{}, fmt.Errorf("courier: expected DEVICE_RESPONSE, got %T", msg)
	}
	return resp, nil
}

// RequestNonce sends NONCE_REQUEST and returns the decoded NONCE_RESPONSE.
func (c *Courier) RequestNonce(ctx context.Context) (wire.NonceResponse, error) {
	frame, err := c.roundTrip(ctx, wire.NonceRequest{}.Encode())
	if err != nil {
		return wire.NonceResponse{}, err
	}
	msg, err := wire.Decode(frame)
	if err != nil {
		return wire.NonceResponse{}, err
	}
	resp, ok := msg.(wire.NonceResponse)
	if !ok {
		return wire.NonceResponse{}, fmt.Errorf("courier: expected NONCE_RESPONSE, got %T", msg)
	}
	return resp, nil
}

// SubmitUnlock sends UNLOCK_REQUEST (the signed Proof obtained from the
// server's challenge service) and returns the decoded UNLOCK_RESPONSE.
func (c *Courier) SubmitUnlock(ctx context.Context, req wire.UnlockRequest) (wire.UnlockResponse, error) {
	frame, err := c.roundTrip(ctx, req.Encode())
	if err != nil {
		return wire.UnlockResponse{}, err
	}
	msg, err := wire.Decode(frame)
	if err != nil {
		return wire.UnlockResponse{}, err
	}
	resp, ok := msg.(wire.UnlockResponse)
	if !ok {
		return wire.UnlockResponse{}, fmt.Errorf("courier: expected UNLOCK_RESPONSE, got %T", msg)
	}
	return resp, nil
}

// Close disconnects the BLE session.
func (c *Courier) Close() error {
	return c.client.CancelConnection()
}
