// Command provision mints a fresh device identity for a new beacon: a
// random 24-byte device id and a P-256 signing keypair the beacon uses to
// produce its NONCE_RESPONSE signature tails.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"navign/pkg/cryptosign"
	"navign/pkg/model"
	"navign/pkg/wire"
)

func deviceTypeFromFlag(raw string) (model.DeviceType, error) {
	switch raw {
	case "merchant":
		return model.DeviceMerchant, nil
	case "pathway":
		return model.DevicePathway, nil
	case "connection":
		return model.DeviceConnection, nil
	case "turnstile":
		return model.DeviceTurnstile, nil
	default:
		return 0, fmt.Errorf("provision: unknown device type %q (want merchant|pathway|connection|turnstile)", raw)
	}
}

// newDeviceID mints an opaque 24-byte identity. google/uuid gives 16
// random bytes with good entropy guarantees; the remaining 8 bytes come
// straight from crypto/rand so the full 24 bytes are unpredictable rather
// than a UUID zero-padded out to length.
func newDeviceID() ([wire.DeviceIDLength]byte, error) {
	var id [wire.DeviceIDLength]byte
	u := uuid.New()
	copy(id[:16], u[:])
	if _, err := rand.Read(id[16:]); err != nil {
		return id, err
	}
	return id, nil
}

func main() {
	deviceTypeFlag := flag.String("type", "turnstile", "device type: merchant|pathway|connection|turnstile")
	keyOut := flag.String("key-out", "./beacon_key.pem", "path to write the beacon's PKCS#8 private key")
	flag.Parse()

	deviceType, err := deviceTypeFromFlag(*deviceTypeFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	deviceID, err := newDeviceID()
	if err != nil {
		fmt.Fprintln(os.Stderr, "provision: generating device id:", err)
		os.Exit(1)
	}

	key, err := cryptosign.GenerateKey()
	if err != nil {
		fmt.Fprintln(os.Stderr, "provision: generating key:", err)
		os.Exit(1)
	}
	pemBytes, err := cryptosign.EncodePrivateKeyPEM(key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "provision: encoding key:", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*keyOut, pemBytes, 0o600); err != nil {
		fmt.Fprintln(os.Stderr, "provision: writing key:", err)
		os.Exit(1)
	}

	signer, err := cryptosign.NewSigner(key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "provision: building signer:", err)
		os.Exit(1)
	}
	pub := signer.PublicKey()

	fmt.Printf("device_id_hex: %s\n", hex.EncodeToString(deviceID[:]))
	fmt.Printf("device_type:   %s (0x%02x)\n", *deviceTypeFlag, byte(deviceType))
	fmt.Printf("public_key_hex: %s\n", hex.EncodeToString(pub[:]))
	fmt.Printf("private_key_file: %s\n", *keyOut)
}
