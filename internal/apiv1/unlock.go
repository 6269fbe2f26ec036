package apiv1

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"navign/internal/apperr"
	"navign/internal/httpserver"
	"navign/pkg/challenge"
)

// unlockChallengeBody is the POST /api/unlock/challenge request payload.
type unlockChallengeBody struct {
	BeaconID       string `json:"beacon_id" binding:"required" validate:"required"`
	NonceHex       string `json:"nonce_hex" binding:"required" validate:"required,hexadecimal,len=32"`
	DeviceBytesHex string `json:"device_bytes_hex" binding:"required" validate:"required,hexadecimal,len=16"`
	Timestamp      int64  `json:"timestamp" binding:"required" validate:"required"`
}

var validate = validator.New()

// BearerAuthorizer extracts a user id from the request's Authorization
// header; production wires Validate to whatever token service the
// deployment uses. The unlock authorization decision itself stays with
// challenge.Authorizer.
type BearerAuthorizer struct {
	Validate func(ctx context.Context, token string) (userID string, ok bool)
}

// UnlockHandlers serves POST /api/unlock/challenge.
type UnlockHandlers struct {
	Service *challenge.Service
	Auth    BearerAuthorizer
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

// Challenge authenticates the caller, then issues a signed Proof for the
// presented beacon nonce.
func (h *UnlockHandlers) Challenge(c *gin.Context) (any, error) {
	token, ok := bearerToken(c)
	if !ok {
		return nil, apperr.New(apperr.TitleUnauthorized, http.StatusUnauthorized, fmt.Errorf("apiv1: missing bearer token"))
	}
	userID, ok := h.Auth.Validate(c.Request.Context(), token)
	if !ok {
		return nil, apperr.New(apperr.TitleUnauthorized, http.StatusUnauthorized, fmt.Errorf("apiv1: invalid bearer token"))
	}

	var body unlockChallengeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, apperr.New(apperr.TitleParseError, http.StatusBadRequest, err)
	}
	if err := validate.Struct(&body); err != nil {
		return nil, apperr.New(apperr.TitleParseError, http.StatusBadRequest, err)
	}

	nonceBytes, err := hex.DecodeString(body.NonceHex)
	if err != nil {
		return nil, apperr.New(apperr.TitleParseError, http.StatusBadRequest, fmt.Errorf("apiv1: nonce_hex: %w", err))
	}
	deviceBytes, err := hex.DecodeString(body.DeviceBytesHex)
	if err != nil {
		return nil, apperr.New(apperr.TitleParseError, http.StatusBadRequest, fmt.Errorf("apiv1: device_bytes_hex: %w", err))
	}

	var nonce [16]byte
	copy(nonce[:], nonceBytes)
	var devBytes [8]byte
	copy(devBytes[:], deviceBytes)

	req, err := h.Service.IssueUnlockChallenge(c.Request.Context(), userID, body.BeaconID, nonce, devBytes, time.Unix(body.Timestamp, 0))
	switch {
	case errors.Is(err, challenge.ErrRequestExpired):
		return nil, apperr.New(apperr.TitleReplayError, http.StatusBadRequest, err)
	case errors.Is(err, challenge.ErrUnauthorized):
		return nil, apperr.New(apperr.TitleUnauthorized, http.StatusForbidden, err)
	case errors.Is(err, challenge.ErrAlreadyUsed):
		return nil, apperr.New(apperr.TitleReplayError, http.StatusConflict, err)
	case err != nil:
		return nil, apperr.Wrap(apperr.TitleCryptoError, err)
	}

	return gin.H{"proof_hex": hex.EncodeToString(req.ProofBytes())}, nil
}

// Register attaches the unlock-challenge endpoint under the /api group.
func (h *UnlockHandlers) Register(api *gin.RouterGroup) {
	httpserver.RegEndpoint(api, http.MethodPost, "/unlock/challenge", h.Challenge)
}
