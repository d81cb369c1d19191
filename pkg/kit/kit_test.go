package kit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestChainOrder(t *testing.T) {
	var calls []string
	tag := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				calls = append(calls, name)
				return next(ctx, req)
			}
		}
	}
	ep := Chain(tag("a"), tag("b"), tag("c"))(func(context.Context, any) (any, error) {
		calls = append(calls, "endpoint")
		return nil, nil
	})
	if _, err := ep(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(calls, ","); got != "a,b,c,endpoint" {
		t.Errorf("calls = %s", got)
	}
}

func TestTransportTag(t *testing.T) {
	if got := GetTransport(context.Background()); got != "cli" {
		t.Errorf("default transport = %q", got)
	}
	ep := WithTransportTag("http")(func(ctx context.Context, _ any) (any, error) {
		return GetTransport(ctx), nil
	})
	got, _ := ep(context.Background(), nil)
	if got != "http" {
		t.Errorf("transport = %v", got)
	}
}

func TestRunID(t *testing.T) {
	ctx := WithRunID(context.Background(), "r-1")
	if GetRunID(ctx) != "r-1" || GetRunID(context.Background()) != "" {
		t.Error("run id round trip failed")
	}
}

func TestLoggingPassesThrough(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	boom := errors.New("boom")
	ep := Logging(logger, "merge")(func(context.Context, any) (any, error) {
		return "partial", boom
	})
	resp, err := ep(context.Background(), nil)
	if resp != "partial" || !errors.Is(err, boom) {
		t.Fatalf("resp, err = %v, %v", resp, err)
	}
	if !strings.Contains(buf.String(), "endpoint=merge") || !strings.Contains(buf.String(), "error=boom") {
		t.Errorf("log = %q", buf.String())
	}

	quiet := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)), "x")(func(context.Context, any) (any, error) {
		return 1, nil
	})
	if v, err := quiet(context.Background(), nil); v != 1 || err != nil {
		t.Errorf("quiet = %v, %v", v, err)
	}
}
