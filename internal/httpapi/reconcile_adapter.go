package httpapi

import (
	"context"

	"github.com/ironlayer/ironlayer/internal/executor"
	"github.com/ironlayer/ironlayer/internal/reconcile"
	"github.com/ironlayer/ironlayer/internal/repository"
)

// reconcileExecutor adapts an executor.Executor (which speaks
// repository.RunStatus) to reconcile.Executor (which speaks its own,
// string-identical RunStatus enum). Two packages define the same states
// under different Go types rather than one importing the other, so a thin
// string-cast bridge is all that is needed to satisfy both call sites.
type reconcileExecutor struct {
	exec executor.Executor
}

func (a reconcileExecutor) VerifyRun(ctx context.Context, externalRunID string) (reconcile.RunStatus, error) {
	status, err := a.exec.VerifyRun(ctx, externalRunID)
	return reconcile.RunStatus(status), err
}

func repositoryStatusFromReconcile(s reconcile.RunStatus) repository.RunStatus {
	return repository.RunStatus(s)
}
