package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sjkd23/console-sub003/internal/platform/env"
)

type Mode string

const (
	ModeInternal Mode = "internal"
	ModeOIDC     Mode = "oidc"
	ModeDev      Mode = "dev"
)

type Config struct {
	Mode           Mode
	InternalSecret string

	OIDCIssuerURL string
	OIDCClientID  string
	SubjectClaim  string
	LabelClaim    string
	RolesClaim    string

	// StaffRoles may write guild settings.
	StaffRoles []string

	DevSubject string
	DevLabel   string
	DevRoles   []string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Mode:           Mode(strings.ToLower(env.String("RUNS_AUTH_MODE", string(ModeInternal)))),
		InternalSecret: env.String("RUNS_INTERNAL_AUTH_SECRET", ""),
		OIDCIssuerURL:  env.String("RUNS_OIDC_ISSUER_URL", ""),
		OIDCClientID:   env.String("RUNS_OIDC_CLIENT_ID", ""),
		SubjectClaim:   env.String("RUNS_OIDC_SUBJECT_CLAIM", "discord_id"),
		LabelClaim:     env.String("RUNS_OIDC_LABEL_CLAIM", "preferred_username"),
		RolesClaim:     env.String("RUNS_OIDC_ROLES_CLAIM", "roles"),
		StaffRoles:     env.CSV("RUNS_STAFF_ROLE_IDS", nil),
		DevSubject:     env.String("RUNS_DEV_AUTH_SUBJECT", "dev"),
		DevLabel:       env.String("RUNS_DEV_AUTH_LABEL", "dev"),
		DevRoles:       env.CSV("RUNS_DEV_AUTH_ROLES", nil),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeInternal:
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("RUNS_OIDC_ISSUER_URL is required in oidc mode")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("RUNS_OIDC_CLIENT_ID is required in oidc mode")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("RUNS_DEV_AUTH_SUBJECT is required in dev mode")
		}
		return nil
	default:
		return fmt.Errorf("unsupported RUNS_AUTH_MODE %q", c.Mode)
	}
	if strings.TrimSpace(c.InternalSecret) == "" {
		return errors.New("RUNS_INTERNAL_AUTH_SECRET is required")
	}
	return nil
}
