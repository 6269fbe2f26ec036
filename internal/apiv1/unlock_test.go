package apiv1

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"navign/pkg/challenge"
	"navign/pkg/cryptosign"
	"navign/pkg/model"
)

func newUnlockEngine(t *testing.T, validate func(context.Context, string) (string, bool)) *gin.Engine {
	gin.SetMode(gin.TestMode)

	key, err := cryptosign.GenerateKey()
	require.NoError(t, err)

	svc := challenge.New(keyProvider{key: key}, alwaysAuthorize{}, newFakeStore())

	engine := gin.New()
	api := engine.Group("/api")
	(&UnlockHandlers{
		Service: svc,
		Auth:    BearerAuthorizer{Validate: validate},
	}).Register(api)
	return engine
}

func TestUnlockChallengeRequiresBearerToken(t *testing.T) {
	engine := newUnlockEngine(t, func(context.Context, string) (string, bool) { return "", false })

	req := httptest.NewRequest(http.MethodPost, "/api/unlock/challenge", bytes.NewReader([]byte("{}")))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUnlockChallengeHappyPath(t *testing.T) {
	engine := newUnlockEngine(t, func(context.Context, string) (string, bool) { return "user1", true })

	body := map[string]any{
		"beacon_id":        "beacon1",
		"nonce_hex":        hex.EncodeToString(bytes.Repeat([]byte{0x42}, 16)),
		"device_bytes_hex": hex.EncodeToString(bytes.Repeat([]byte{0x00}, 8)),
		"timestamp":        time.Now().Unix(),
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/unlock/challenge", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		ProofHex string `json:"proof_hex"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	proof, err := hex.DecodeString(resp.ProofHex)
	require.NoError(t, err)
	require.Len(t, proof, 104)
}

type keyProvider struct{ key *ecdsa.PrivateKey }

func (k keyProvider) ServerKey() *ecdsa.PrivateKey { return k.key }

type alwaysAuthorize struct{}

func (alwaysAuthorize) Authorize(context.Context, string, string) (bool, error) { return true, nil }

type fakeStore struct {
	records map[int64]model.UnlockAttemptRecord
	used    map[string]bool
	nextID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[int64]model.UnlockAttemptRecord{}, used: map[string]bool{}}
}

func (s *fakeStore) Create(_ context.Context, rec model.UnlockAttemptRecord) (int64, error) {
	s.nextID++
	rec.ID = s.nextID
	s.records[s.nextID] = rec
	return s.nextID, nil
}

func (s *fakeStore) AdvanceStage(_ context.Context, id int64, stage model.AttemptStage, outcome string) error {
	rec := s.records[id]
	rec.Stage = stage
	rec.Outcome = outcome
	s.records[id] = rec
	return nil
}

func (s *fakeStore) WasNonceUsed(_ context.Context, beaconID string, nonce [16]byte) (bool, error) {
	return s.used[beaconID+string(nonce[:])], nil
}

func (s *fakeStore) MarkNonceUsed(_ context.Context, beaconID string, nonce [16]byte) error {
	s.used[beaconID+string(nonce[:])] = true
	return nil
}
