package reconciler

import "context"

// BaseReconciler is a background loop that runs until ctx is cancelled.
type BaseReconciler interface {
	Run(ctx context.Context)
}
