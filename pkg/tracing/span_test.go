package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestChildSpansAttachToParent(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "ingest", "trace-1")
	_, fit := StartChildSpan(ctx, "fit")
	fit.SetAttr("terms", 12)
	fit.End()
	root.End()

	if len(root.Children) != 1 || root.Children[0] != fit {
		t.Fatalf("children = %v", root.Children)
	}
	if fit.TraceID != "trace-1" {
		t.Errorf("child trace id = %q", fit.TraceID)
	}
	if SpanFromContext(ctx) != root {
		t.Error("root span not in context")
	}
}

func TestDetachedChild(t *testing.T) {
	_, orphan := StartChildSpan(context.Background(), "collect")
	orphan.End()
	if orphan.TraceID != "" {
		t.Errorf("orphan trace id = %q", orphan.TraceID)
	}
}

func TestLogWritesTree(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	ctx, root := StartSpan(context.Background(), "query", "t")
	_, child := StartChildSpan(ctx, "score")
	child.End()
	root.End()
	root.Log()

	out := buf.String()
	if !strings.Contains(out, "span=query") || !strings.Contains(out, "span=score") || !strings.Contains(out, "depth=1") {
		t.Errorf("unexpected log output %q", out)
	}
}
