package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spadhi7/datahub/pkg/logger"
)

func TestStart_BuildsTree(t *testing.T) {
	ctx := logger.WithRequestID(context.Background(), "req-1")
	ctx, root := Start(ctx, "root")
	childCtx, child := Start(ctx, "child")
	_, grandchild := Start(childCtx, "grandchild")
	grandchild.End()
	child.End()
	root.End()

	assert.Equal(t, "req-1", root.TraceID)
	assert.Equal(t, "req-1", grandchild.TraceID)
	require.Len(t, root.Children, 1)
	assert.Same(t, child, root.Children[0])
	require.Len(t, child.Children, 1)
	assert.Same(t, grandchild, child.Children[0])
	assert.Same(t, root, FromContext(ctx))
}

func TestFromContext_Empty(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
}

func TestLog_WritesDepthFirst(t *testing.T) {
	_, root := Start(context.Background(), "root")
	ctx := context.WithValue(context.Background(), contextKey{}, root)
	_, child := Start(ctx, "child")
	child.SetAttr("entities", []string{"dataset"})
	child.End()
	root.End()

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "span=root")
	assert.Contains(t, lines[0], "depth=0")
	assert.Contains(t, lines[1], "span=child")
	assert.Contains(t, lines[1], "depth=1")
	assert.Contains(t, lines[1], "entities=[dataset]")
}

func TestMiddleware_NamesSpanByRoute(t *testing.T) {
	var seen *Span
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "GET /items/{id}", seen.Name)
}
