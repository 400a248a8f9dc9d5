package app

import (
	"errors"
	"fmt"
	"strings"

	"finpipe/internal/config"
	"finpipe/internal/storage"
	logx "finpipe/pkg/logx"
)

// openStore opens the configured store. A disabled store returns nil and no
// error; the API then answers 503 on record routes.
func openStore(cfg *config.Config, sec config.Secrets, log logx.Logger) (*storage.SQLStore, error) {
	sc := cfg.StorageOptions(sec.DatabaseDSN)
	switch strings.ToLower(strings.TrimSpace(sc.Driver)) {
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(sc.DSN) == "" {
			return nil, fmt.Errorf("storage.driver=%s needs FINPIPE_DATABASE_DSN", sc.Driver)
		}
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if errors.Is(err, storage.ErrDisabled) {
		log.Warn("storage disabled; record routes and the maturity job are off")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	log.Info("storage enabled", logx.String("driver", sc.Driver))
	return st, nil
}
