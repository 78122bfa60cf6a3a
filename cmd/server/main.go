package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/auth"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/capability"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/config"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/httpapi"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/ids"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/obs"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/profile"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/session"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/store"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	log := obs.NewLogger(os.Stdout, cfg.Level, cfg.Format)
	obs.SetLogger(log)
	obs.Init()
	obs.InitBuildInfo("server", cfg.Version, cfg.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ready := httpapi.ReadyProbe{}

	var (
		profiles profile.Store
		access   profile.Access
	)
	if cfg.DBDSN != "" {
		db, dialect, err := store.Open(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		p := store.NewProfiles(db, dialect)
		profiles, access = p, p
		ready["db"] = p
	} else {
		log.Warn("DWS_DB_DSN not set, profiles are kept in memory")
		m := profile.NewMemoryStore()
		profiles, access = m, m
	}

	var revoker session.Revoker = session.NewMemoryRevoker()
	if cfg.RedisURL != "" {
		client, err := session.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		r := session.NewRedisRevoker(client, "")
		revoker = r
		ready["redis"] = r
	}

	var verifier auth.Verifier
	if cfg.OIDCIssuer != "" {
		verifier, err = auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.TokenAudience)
	} else {
		verifier, err = auth.NewHMACVerifier(cfg.TokenSecret, cfg.TokenIssuer, cfg.TokenAudience)
	}
	if err != nil {
		return err
	}

	policy, err := capability.Load(cfg.CapabilityFile)
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Deps{
		Verifier:     verifier,
		Revoker:      revoker,
		Profiles:     profiles,
		Access:       access,
		Evaluator:    policy,
		StableID:     ids.StableID,
		Ready:        ready,
		Version:      cfg.Version,
		CORSOrigins:  cfg.CORSOrigins,
		MaxBodyBytes: cfg.MaxBodyBytes,
		RateBurst:    cfg.RateLimitBurst,
		RatePerSec:   cfg.RateLimitRPS,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	health := httpapi.NewHealthServer(ready)
	health.Register(grpcSrv)
	go health.Run(ctx, cfg.HealthInterval)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", "addr", srv.Addr, "version", cfg.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.Info("grpc listening", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		log.Error("listener failed", "error", err)
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	grpcSrv.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
