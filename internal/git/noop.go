package git

import (
	"context"
	"log/slog"
)

// NewDryRunRunner returns a Runner that only executes read-only probes through
// inner and logs every mutating command instead of running it. inner may be nil,
// in which case probes report a clean working tree.
func NewDryRunRunner(inner Runner, log *slog.Logger) Runner {
	return &dryRunRunner{inner: inner, log: log}
}

type dryRunRunner struct {
	inner Runner
	log   *slog.Logger
}

func (r *dryRunRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	if err := cmd.Validate(); err != nil {
		return Output{}, err
	}

	if cmd.Op.ReadOnly() && r.inner != nil {
		return r.inner.Run(ctx, cmd)
	}

	if r.log != nil {
		r.log.Info("dry run: skipping git command", "cmd", cmd.String())
	}
	return Output{}, nil
}
