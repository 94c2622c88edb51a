package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskmap-cli/internal/store"
)

// initStore opens and migrates the run ledger. Callers must Close it.
func initStore(ctx context.Context) (store.Store, error) {
	path := cfg.Store.Path
	if path == "" {
		path = "riskmap.db"
	}
	st, err := store.NewSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
