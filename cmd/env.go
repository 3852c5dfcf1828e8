package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/feedback-cli/internal/oracle"
	"github.com/sells-group/feedback-cli/internal/pipeline"
	"github.com/sells-group/feedback-cli/internal/store"
)

// appEnv holds the store, oracle and pipeline shared by the commands.
type appEnv struct {
	Store    store.Store
	Oracle   oracle.Oracle
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates the config for mode, opens and migrates the store and
// builds the oracle. Maintenance and report commands never need an API key;
// without one they run on the offline stub. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	var o oracle.Oracle
	switch mode {
	case "ingest", "serve":
		o, err = oracle.New(ctx, cfg)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "init oracle")
		}
	case "report":
		if err := cfg.Validate("ingest"); err == nil {
			o, err = oracle.New(ctx, cfg)
			if err != nil {
				_ = st.Close()
				return nil, eris.Wrap(err, "init oracle")
			}
		} else {
			o = oracle.NewStub()
		}
	default:
		o = oracle.NewStub()
	}

	return &appEnv{
		Store:    st,
		Oracle:   o,
		Pipeline: pipeline.New(cfg, st, o),
	}, nil
}
