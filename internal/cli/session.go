package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/authview"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/capability"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/config"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/directory"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/identity"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/identity/oidc"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/profile"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/sessionapi"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/store"
)

func openProvider(ctx context.Context, cfg config.Client, errOut io.Writer) (identity.Provider, error) {
	path := cfg.TokenCache
	if path == "" {
		var err error
		if path, err = oidc.DefaultCachePath(); err != nil {
			return nil, fmt.Errorf("token cache: %w", err)
		}
	}
	return oidc.New(ctx, oidc.Config{
		Issuer:       cfg.Issuer,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.LoginScopes,
		Navigator:    oidc.PrintNavigator(errOut),
		Cache:        oidc.NewFileCache(path),
	})
}

// session is an authview builder with the resources it owns.
type session struct {
	*authview.Builder
	db *sql.DB
}

func (s *session) Close() error {
	err := s.Builder.Close()
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}

func (a *app) openSession(ctx context.Context) (*session, error) {
	cfg, err := a.loadClient()
	if err != nil {
		return nil, err
	}
	provider, err := a.provider(ctx, cfg, a.errOut)
	if err != nil {
		return nil, err
	}
	policy, err := capability.Load(cfg.CapabilityFile)
	if err != nil {
		return nil, err
	}

	s := &session{}
	var profiles profile.Store
	if cfg.DBDSN != "" {
		db, dialect, err := store.Open(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		s.db = db
		profiles = store.NewProfiles(db, dialect)
	} else {
		a.logger.Warn("DWS_DB_DSN not set, profile sync is local to this process")
		profiles = profile.NewMemoryStore()
	}

	opts := authview.Options{
		Provider:       provider,
		Store:          profiles,
		Evaluator:      policy,
		EmailFallback:  cfg.EmailFallbackEnabled(),
		SignInURL:      cfg.SignInURL(),
		LoadingTimeout: cfg.LoadingTimeout,
		LoginScopes:    cfg.LoginScopes,
		EmailScopes:    cfg.EmailScopes,
		APIScopes:      cfg.APIScopes,
		Logger:         a.logger,
	}
	if cfg.DirectoryURL != "" {
		opts.Emails = directory.New(cfg.DirectoryURL, nil)
	}
	if cfg.APIBaseURL != "" {
		opts.API = sessionapi.New(cfg.APIBaseURL)
	}

	b, err := authview.New(opts)
	if err != nil {
		if s.db != nil {
			_ = s.db.Close()
		}
		return nil, err
	}
	s.Builder = b
	return s, nil
}
