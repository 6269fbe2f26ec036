package main

import (
	"context"
	"crypto/ecdsa"
	"os"
	"os/signal"
	"syscall"

	"navign/internal/apiv1"
	"navign/internal/config"
	"navign/internal/httpserver"
	"navign/internal/logger"
	"navign/internal/ratelimit"
	"navign/internal/store"
	"navign/pkg/catalog"
	"navign/pkg/challenge"
	"navign/pkg/cryptosign"
)

// keyProvider hands the loaded server private key to challenge.Service.
type keyProvider struct{ key *ecdsa.PrivateKey }

func (k keyProvider) ServerKey() *ecdsa.PrivateKey { return k.key }

// staticAuthorizer is the default Authorizer wired when no external ACL
// collaborator is configured: every authenticated user may unlock every
// beacon. A deployment that needs real authorization swaps this for its
// own challenge.Authorizer.
type staticAuthorizer struct{}

func (staticAuthorizer) Authorize(context.Context, string, string) (bool, error) { return true, nil }

// bearerIsUserID treats the bearer token itself as the user id. Real
// deployments wire apiv1.BearerAuthorizer.Validate to whatever token
// service issues their bearer tokens.
func bearerIsUserID(_ context.Context, token string) (string, bool) {
	if token == "" {
		return "", false
	}
	return token, true
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		os.Exit(1)
	}

	log, err := logger.New("navign_server", cfg.LogPath, cfg.Production)
	if err != nil {
		os.Exit(1)
	}
	mainLog := log.New("main")

	privateKey, err := cryptosign.LoadOrCreatePrivateKeyFile(cfg.PrivateKeyFile)
	if err != nil {
		mainLog.Error(err, "loading server private key")
		os.Exit(1)
	}

	db, err := store.Open(cfg.PostgresURL, cfg.PostgresRunMigrations)
	if err != nil {
		mainLog.Error(err, "opening store")
		os.Exit(1)
	}

	cat := catalog.New()
	if cfg.CatalogFile != "" {
		cat, err = catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			mainLog.Error(err, "loading catalog", "path", cfg.CatalogFile)
			os.Exit(1)
		}
	}

	svc := challenge.New(keyProvider{key: privateKey}, staticAuthorizer{}, db)

	limiter := ratelimit.New(cfg.RateLimitPerSecond, cfg.RateLimitBurstSize)

	httpSrv := httpserver.Default(cfg.ServerBindAddr, log.New("httpserver"), cfg.Production)

	apiv1.Register(httpSrv.Engine, apiv1.Deps{
		Route:  &apiv1.RouteHandlers{Catalog: cat},
		Unlock: &apiv1.UnlockHandlers{Service: svc, Auth: apiv1.BearerAuthorizer{Validate: bearerIsUserID}},
		System: &apiv1.SystemHandlers{
			Pinger:    db,
			PublicKey: cryptosign.EncodePublicKey(&privateKey.PublicKey),
		},
		Limiter: limiter,
	})

	mainLog.Info("listening", "addr", cfg.ServerBindAddr)

	if err := httpSrv.ListenAndServe(ctx); err != nil {
		mainLog.Error(err, "http server stopped")
	}

	if err := db.Close(); err != nil {
		mainLog.Error(err, "closing store")
	}

	mainLog.Info("stopped")
}
