package grpcserver

import (
	"context"

	"github.com/and161185/squadcal/internal/model"
)

type ctxKey string

const viewerKey ctxKey = "sc.viewer"

// WithViewer stores the resolved viewer in context.
func WithViewer(ctx context.Context, v model.Viewer) context.Context {
	return context.WithValue(ctx, viewerKey, v)
}

// ViewerFromCtx fetches the viewer from context.
func ViewerFromCtx(ctx context.Context) (model.Viewer, bool) {
	v, ok := ctx.Value(viewerKey).(model.Viewer)
	return v, ok
}
