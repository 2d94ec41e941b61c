// Package app assembles the accounts server from its components and runs
// it.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/padworks/accounts/internal/billing"
	"github.com/padworks/accounts/internal/challenge"
	"github.com/padworks/accounts/internal/command"
	"github.com/padworks/accounts/internal/config"
	"github.com/padworks/accounts/internal/db"
	"github.com/padworks/accounts/internal/dpa"
	"github.com/padworks/accounts/internal/httpapi"
	"github.com/padworks/accounts/internal/identity"
	"github.com/padworks/accounts/internal/notify"
	"github.com/padworks/accounts/internal/provider"
	"github.com/padworks/accounts/internal/reconcile"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Migrate opens the database and runs migrations.
func Migrate(configPath string) error {
	cfg, err := config.Load(config.ResolveConfigPath(configPath))
	if err != nil {
		return err
	}
	conn, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the accounts server and blocks until ctx is done or the
// listener fails.
func RunServer(ctx context.Context, configPath string, portOverride int) error {
	cfg, err := config.Load(config.ResolveConfigPath(configPath))
	if err != nil {
		return err
	}
	if portOverride > 0 {
		cfg.HTTPPort = portOverride
	}

	conn, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	log.Infof("app: database ready (dialect %s)", db.DialectName(conn))

	if errDir := os.MkdirAll(cfg.DPADir, 0o750); errDir != nil {
		return fmt.Errorf("app: create dpa dir: %w", errDir)
	}

	client := provider.NewStripeClient(cfg.Stripe.SecretKey)
	notifier := notify.New(cfg.ProductOrigin)
	engine := reconcile.New(conn, client, cfg.Plans, cfg.ReconcileInterval)

	svc := &billing.Service{
		DB:       conn,
		Provider: client,
		Plans:    cfg.Plans,
		Notify:   notifier.ForceUpdate,
		Kick:     engine.Kick,
	}

	admins := map[string]bool{}
	for _, admin := range cfg.Admins {
		parsed, errParse := identity.Parse(admin)
		if errParse != nil {
			log.WithError(errParse).Warnf("app: skipping malformed admin entry %q", admin)
			continue
		}
		admins[parsed.PublicKey] = true
	}

	files := dpa.NewFiles(cfg.DPADir)
	env := &command.Env{
		DB:       conn,
		Billing:  svc,
		Provider: client,
		Plans:    cfg.Plans,
		Domain:   cfg.Domain(),
		Origin:   cfg.ProductOrigin,
		Admins:   admins,
		DPAFiles: files,
		DPAGen:   dpa.NewFormFiller(files),
	}

	store := challenge.NewStore()
	store.Start(ctx)
	engine.Start(ctx)

	srv := &httpapi.Server{
		DB:             conn,
		Billing:        svc,
		Plans:          cfg.Plans,
		Domain:         cfg.Domain(),
		IgnoredDomains: cfg.IgnoredDomains,
		Protocol:       command.NewProtocol(command.BuildTable(), store, env),
		Verify:         provider.NewStripeWebhookVerifier(cfg.Stripe.WebhookSecret),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	srv.Routes(router)

	addr := net.JoinHostPort(cfg.HTTPAddress, strconv.Itoa(cfg.HTTPPort))
	httpServer := &http.Server{Addr: addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Infof("app: listening on %s (instance %s)", addr, cfg.Domain())
	if errServe := httpServer.ListenAndServe(); errServe != nil && errServe != http.ErrServerClosed {
		return errServe
	}
	return nil
}
