// Package store is the Postgres persistence layer: the append-only unlock
// audit log and the single-use-nonce bookkeeping the challenge service
// needs, backed by gorm with an in-memory ttlcache guard in front of the
// nonce-used check so a hot beacon doesn't round-trip to Postgres on every
// presented nonce.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"navign/pkg/model"
)

// UnlockAttempt is the gorm row backing model.UnlockAttemptRecord.
type UnlockAttempt struct {
	gorm.Model
	BeaconID       string `gorm:"index"`
	UserID         string `gorm:"index"`
	DeviceBytes    []byte
	OccurredAt     time.Time
	BeaconNonce    []byte `gorm:"index"`
	ChallengeNonce []byte
	Stage          string
	Outcome        string
	AuthType       string
}

func (UnlockAttempt) TableName() string { return "unlock_attempts" }

// UsedNonce records that a beacon nonce has already been spent on a
// challenge, enforcing single-use Proofs durably across restarts.
type UsedNonce struct {
	gorm.Model
	BeaconID string `gorm:"uniqueIndex:idx_beacon_nonce"`
	Nonce    []byte `gorm:"uniqueIndex:idx_beacon_nonce"`
}

func (UsedNonce) TableName() string { return "used_nonces" }

// Store is the gorm-backed ChallengeStore and audit log.
type Store struct {
	db    *gorm.DB
	cache *ttlcache.Cache[string, struct{}]
}

// Open connects to Postgres at dsn and, if runMigrations is set, applies
// AutoMigrate for the two tables this package owns.
func Open(dsn string, runMigrations bool) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if runMigrations {
		if err := db.AutoMigrate(&UnlockAttempt{}, &UsedNonce{}); err != nil {
			return nil, err
		}
	}

	cache := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](10 * time.Minute),
		ttlcache.WithCapacity[string, struct{}](4096),
	)
	go cache.Start()

	return &Store{db: db, cache: cache}, nil
}

// Ping satisfies apiv1.Pinger for the /health endpoint.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close stops the in-memory cache's janitor and releases the DB handle.
func (s *Store) Close() error {
	s.cache.Stop()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func nonceKey(beaconID string, nonce [16]byte) string {
	return beaconID + "|" + string(nonce[:])
}

// Create appends a new attempt record and returns its storage id.
func (s *Store) Create(ctx context.Context, rec model.UnlockAttemptRecord) (int64, error) {
	row := UnlockAttempt{
		BeaconID:       rec.BeaconID,
		UserID:         rec.UserID,
		DeviceBytes:    append([]byte(nil), rec.DeviceBytes[:]...),
		OccurredAt:     rec.Timestamp,
		BeaconNonce:    append([]byte(nil), rec.BeaconNonce[:]...),
		ChallengeNonce: append([]byte(nil), rec.ChallengeNonce[:]...),
		Stage:          string(rec.Stage),
		Outcome:        rec.Outcome,
		AuthType:       string(rec.AuthType),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	return int64(row.ID), nil
}

// AdvanceStage updates an attempt record's stage and outcome in place.
func (s *Store) AdvanceStage(ctx context.Context, id int64, stage model.AttemptStage, outcome string) error {
	return s.db.WithContext(ctx).Model(&UnlockAttempt{}).Where("id = ?", id).
		Updates(map[string]any{"stage": string(stage), "outcome": outcome}).Error
}

// WasNonceUsed reports whether a challenge has already been issued for
// beaconID+nonce, checking the hot cache before Postgres.
func (s *Store) WasNonceUsed(ctx context.Context, beaconID string, nonce [16]byte) (bool, error) {
	key := nonceKey(beaconID, nonce)
	if item := s.cache.Get(key); item != nil {
		return true, nil
	}

	var row UsedNonce
	err := s.db.WithContext(ctx).Where("beacon_id = ? AND nonce = ?", beaconID, nonce[:]).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.cache.Set(key, struct{}{}, ttlcache.DefaultTTL)
	return true, nil
}

// MarkNonceUsed records that a challenge was issued for this
// beaconID+nonce pair, in both the durable store and the hot cache.
func (s *Store) MarkNonceUsed(ctx context.Context, beaconID string, nonce [16]byte) error {
	row := UsedNonce{BeaconID: beaconID, Nonce: append([]byte(nil), nonce[:]...)}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	s.cache.Set(nonceKey(beaconID, nonce), struct{}{}, ttlcache.DefaultTTL)
	return nil
}

// SearchResult is one page of an audit log search.
type SearchResult struct {
	Attempts []UnlockAttempt
	Total    int64
}

// SearchByDevice paginates the audit log, optionally filtering by a
// device-id substring (a hex LIKE search).
func (s *Store) SearchByDevice(ctx context.Context, deviceIDHex string, page, pageSize int) (SearchResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	q := s.db.WithContext(ctx).Model(&UnlockAttempt{})
	if deviceIDHex != "" {
		q = q.Where("encode(device_bytes, 'hex') LIKE ?", "%"+deviceIDHex+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return SearchResult{}, err
	}

	var rows []UnlockAttempt
	err := q.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Attempts: rows, Total: total}, nil
}
