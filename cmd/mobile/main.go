// Command mobile is the courier-side CLI: scan for a Navign beacon,
// connect, run the DEVICE_REQUEST/NONCE_REQUEST handshake, fetch a signed
// Proof from the server's challenge endpoint, and submit it as
// UNLOCK_REQUEST.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"

	"navign/pkg/courier"
	"navign/pkg/wire"
)

type challengeResponse struct {
	ProofHex string `json:"proof_hex"`
}

func fetchProof(ctx context.Context, serverURL, bearerToken, beaconID string, nonce [16]byte, deviceBytes [8]byte) (wire.UnlockRequest, error) {
	body, err := json.Marshal(map[string]any{
		"beacon_id":        beaconID,
		"nonce_hex":        hex.EncodeToString(nonce[:]),
		"device_bytes_hex": hex.EncodeToString(deviceBytes[:]),
		"timestamp":        time.Now().Unix(),
	})
	if err != nil {
		return wire.UnlockRequest{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/unlock/challenge", bytes.NewReader(body))
	if err != nil {
		return wire.UnlockRequest{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return wire.UnlockRequest{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return wire.UnlockRequest{}, fmt.Errorf("mobile: challenge endpoint returned %d", resp.StatusCode)
	}

	var decoded challengeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return wire.UnlockRequest{}, err
	}

	proof, err := hex.DecodeString(decoded.ProofHex)
	if err != nil {
		return wire.UnlockRequest{}, err
	}
	return wire.DecodeProof(proof)
}

func main() {
	addr := flag.String("addr", "", "BLE address of the beacon to connect to (scans for the strongest beacon if omitted)")
	beaconID := flag.String("beacon", "", "beacon id, as known to the server")
	serverURL := flag.String("server", "http://localhost:3000", "Navign server base URL")
	token := flag.String("token", "", "bearer token for the challenge endpoint")
	timeout := flag.Duration("timeout", 10*time.Second, "overall session timeout")
	scanDuration := flag.Duration("scan", 5*time.Second, "how long to scan when no -addr is given")
	flag.Parse()

	if *beaconID == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "mobile: -beacon and -token are required")
		os.Exit(2)
	}

	dev, err := linux.NewDevice()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mobile: opening BLE device:", err)
		os.Exit(1)
	}
	ble.SetDefaultDevice(dev)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	target := ble.NewAddr(*addr)
	if *addr == "" {
		discovered, err := courier.Scan(ctx, *scanDuration)
		if err != nil {
			fmt.Fprintln(os.Stderr, "mobile: scan:", err)
			os.Exit(1)
		}
		if len(discovered) == 0 {
			fmt.Fprintln(os.Stderr, "mobile: no beacons found")
			os.Exit(1)
		}
		target = discovered[0].Addr
		fmt.Printf("connecting to strongest beacon %s (rssi %d)\n", target, discovered[0].RSSI)
	}

	session, err := courier.Connect(ctx, target)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mobile: connect:", err)
		os.Exit(1)
	}
	defer session.Close()

	deviceInfo, err := session.AnnounceDevice(ctx, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mobile: announce device:", err)
		os.Exit(1)
	}
	fmt.Printf("beacon device id: %x, type: %d\n", deviceInfo.DeviceID, deviceInfo.DeviceType)

	var deviceBytes [8]byte
	copy(deviceBytes[:], deviceInfo.DeviceID[:8])

	nonceResp, err := session.RequestNonce(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mobile: request nonce:", err)
		os.Exit(1)
	}

	unlockReq, err := fetchProof(ctx, *serverURL, *token, *beaconID, nonceResp.Nonce, deviceBytes)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mobile: fetch proof:", err)
		os.Exit(1)
	}

	unlockResp, err := session.SubmitUnlock(ctx, unlockReq)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mobile: submit unlock:", err)
		os.Exit(1)
	}

	if !unlockResp.Success {
		fmt.Fprintf(os.Stderr, "mobile: unlock failed, error code 0x%02x\n", unlockResp.Error)
		os.Exit(1)
	}

	fmt.Println("unlock succeeded")
}
