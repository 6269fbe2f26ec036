package cryptosign

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	signer, err := NewSigner(key)
	require.NoError(t, err)

	msg := []byte("nonce||device_bytes||verify_bytes||timestamp")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)
	require.True(t, Verify(&key.PublicKey, msg, sig))
}

func TestVerifyFailsOnTamperedMessage(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	signer, err := NewSigner(key)
	require.NoError(t, err)

	sig, err := signer.Sign([]byte("original"))
	require.NoError(t, err)
	require.False(t, Verify(&key.PublicKey, []byte("tampered"), sig))
}

func TestPublicKeyEncodeDecodeRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	enc := EncodePublicKey(&key.PublicKey)
	require.Equal(t, byte(0x04), enc[0])

	dec, err := DecodePublicKey(enc[:])
	require.NoError(t, err)
	require.Zero(t, key.PublicKey.X.Cmp(dec.X))
	require.Zero(t, key.PublicKey.Y.Cmp(dec.Y))
}

func TestLoadOrCreatePrivateKeyFileCreatesThenReuses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "private_key.pem")

	key1, err := LoadOrCreatePrivateKeyFile(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	key2, err := LoadOrCreatePrivateKeyFile(path)
	require.NoError(t, err)
	require.Zero(t, key1.X.Cmp(key2.X))
	require.Zero(t, key1.Y.Cmp(key2.Y))
	require.Zero(t, key1.D.Cmp(key2.D))
}
