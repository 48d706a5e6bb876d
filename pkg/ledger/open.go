package ledger

import (
	"context"

	"github.com/taxiflow/taxiflow/pkg/config"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

// Open builds the backend selected by cfg.
func Open(ctx context.Context, cfg config.LedgerConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileBackend(cfg.Path)
	case "redis":
		rc := DefaultRedisConfig(cfg.Redis.Address)
		rc.Password = cfg.Redis.Password
		rc.Database = cfg.Redis.Database
		if cfg.Redis.Prefix != "" {
			rc.Prefix = cfg.Redis.Prefix
		}
		rc.TTL = cfg.Redis.TTL
		return NewRedisBackend(ctx, rc)
	case "none":
		return Nop{}, nil
	default:
		return nil, tferrors.Newf(tferrors.CodeConfig, "unknown ledger backend %q", cfg.Backend)
	}
}
