// Command beacon runs the C4 beacon state machine as a simulated BLE
// peripheral: go-ble/ble exposes a central role only, so this entrypoint
// drives pkg/beacon.Machine over a framed TCP listener instead of real
// GATT advertising, giving cmd/mobile (or any test harness) something to
// dial against without hardware.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"navign/internal/logger"
	"navign/pkg/beacon"
	"navign/pkg/cryptosign"
	"navign/pkg/model"
	"navign/pkg/wire"
)

type noopActuator struct{ log *logger.Log }

func (a noopActuator) Actuate() error {
	a.log.Info("actuated")
	return nil
}

func frameLength(tag wire.Tag) (int, bool) {
	switch tag {
	case wire.TagDeviceRequest:
		return wire.LenDeviceRequest, true
	case wire.TagNonceRequest:
		return wire.LenNonceRequest, true
	case wire.TagUnlockRequest:
		return wire.LenUnlockRequest, true
	default:
		return 0, false
	}
}

func readFrame(conn net.Conn) ([]byte, error) {
	tagByte := make([]byte, 1)
	if _, err := io.ReadFull(conn, tagByte); err != nil {
		return nil, err
	}
	length, ok := frameLength(wire.Tag(tagByte[0]))
	if !ok {
		return nil, fmt.Errorf("beacon: unexpected request tag 0x%02x", tagByte[0])
	}
	frame := make([]byte, length)
	frame[0] = tagByte[0]
	if length > 1 {
		if _, err := io.ReadFull(conn, frame[1:]); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

func serveConn(conn net.Conn, m *beacon.Machine, log *logger.Log) {
	defer conn.Close()
	m.HandleConnect()
	log.Info("session opened", "remote", conn.RemoteAddr())

	for {
		frame, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				log.Debug("read failed", "error", err)
			}
			break
		}

		msg, err := wire.Decode(frame)
		if err != nil {
			log.Debug("decode failed", "error", err)
			break
		}

		var resp []byte
		switch req := msg.(type) {
		case wire.DeviceRequest:
			out, err := m.HandleDeviceRequest(req)
			if err != nil {
				log.Debug("device request rejected", "error", err)
				continue
			}
			resp = out.Encode()
		case wire.NonceRequest:
			out, err := m.HandleNonceRequest(req)
			if err != nil {
				log.Debug("nonce request rejected", "error", err)
				continue
			}
			resp = out.Encode()
		case wire.UnlockRequest:
			out := m.HandleUnlockRequest(req)
			resp = out.Encode()
		default:
			log.Debug("unhandled message type", "type", fmt.Sprintf("%T", msg))
			continue
		}

		if _, err := conn.Write(resp); err != nil {
			log.Debug("write failed", "error", err)
			break
		}
	}

	m.HandleDisconnect()
	log.Info("session closed", "remote", conn.RemoteAddr())
}

func deviceIDFromEnv() ([wire.DeviceIDLength]byte, error) {
	var id [wire.DeviceIDLength]byte
	raw := os.Getenv("BEACON_DEVICE_ID_HEX")
	if raw == "" {
		return id, nil
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != wire.DeviceIDLength {
		return id, fmt.Errorf("beacon: BEACON_DEVICE_ID_HEX must be %d hex bytes", wire.DeviceIDLength)
	}
	copy(id[:], decoded)
	return id, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, err := logger.New("navign_beacon", os.Getenv("LOG_PATH"), os.Getenv("PRODUCTION") == "true")
	if err != nil {
		os.Exit(1)
	}
	mainLog := log.New("main")

	bindAddr := os.Getenv("BEACON_BIND_ADDR")
	if bindAddr == "" {
		bindAddr = "0.0.0.0:7000"
	}

	keyFile := os.Getenv("BEACON_PRIVATE_KEY_FILE")
	if keyFile == "" {
		keyFile = "./beacon_key.pem"
	}
	beaconKey, err := cryptosign.LoadOrCreatePrivateKeyFile(keyFile)
	if err != nil {
		mainLog.Error(err, "loading beacon private key")
		os.Exit(1)
	}
	signer, err := cryptosign.NewSigner(beaconKey)
	if err != nil {
		mainLog.Error(err, "building signer")
		os.Exit(1)
	}

	serverPubKey, err := loadServerPublicKey(os.Getenv("SERVER_PUBLIC_KEY_FILE"))
	if err != nil {
		mainLog.Error(err, "loading server public key")
		os.Exit(1)
	}

	deviceID, err := deviceIDFromEnv()
	if err != nil {
		mainLog.Error(err, "parsing device id")
		os.Exit(1)
	}

	m := beacon.New(deviceID, model.DeviceTurnstile, wire.PacketizeCapabilities(model.CapabilityUnlockGate), signer, noopActuator{log: log.New("actuator")}, log.Logger)
	m.SetServerPublicKey(serverPubKey)

	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		mainLog.Error(err, "listening")
		os.Exit(1)
	}
	mainLog.Info("advertising", "addr", bindAddr)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	// One physical BLE session at a time: Machine isn't safe for concurrent
	// use, and real hardware wouldn't field two centrals simultaneously
	// either, so connections are served serially rather than in goroutines.
	for {
		conn, err := listener.Accept()
		if err != nil {
			break
		}
		serveConn(conn, m, log.New("session"))
	}

	mainLog.Info("stopped")
}

func loadServerPublicKey(path string) (*ecdsa.PublicKey, error) {
	if path == "" {
		return nil, fmt.Errorf("beacon: SERVER_PUBLIC_KEY_FILE is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return cryptosign.DecodePublicKeyPEM(data)
}
