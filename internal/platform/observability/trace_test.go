package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clearcart/api/internal/platform/requestctx"
)

func serveWithTrace(t *testing.T, header string) (*httptest.ResponseRecorder, requestctx.TraceInfo) {
	t.Helper()

	var captured requestctx.TraceInfo
	handler := TraceMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = requestctx.TraceInfo{
			TraceID: requestctx.TraceID(r.Context()),
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	if header != "" {
		req.Header.Set(cloudTraceHeader, header)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, captured
}

func TestTraceMiddlewarePropagatesIncomingTrace(t *testing.T) {
	const traceID = "105445aa7843bc8bf206b12000100012"
	rr, info := serveWithTrace(t, traceID+"/00f067aa0ba902b7;o=1")

	if info.TraceID != traceID {
		t.Fatalf("expected trace id %s, got %q", traceID, info.TraceID)
	}
	echo := rr.Header().Get(cloudTraceHeader)
	if !strings.HasPrefix(echo, traceID+"/") || !strings.HasSuffix(echo, ";o=1") {
		t.Fatalf("unexpected echoed header %q", echo)
	}
}

func TestTraceMiddlewarePadsShortSpanIDs(t *testing.T) {
	const traceID = "105445aa7843bc8bf206b12000100012"
	rr, info := serveWithTrace(t, traceID+"/1")

	if info.TraceID != traceID {
		t.Fatalf("expected trace id %s, got %q", traceID, info.TraceID)
	}
	if echo := rr.Header().Get(cloudTraceHeader); echo != traceID+"/0000000000000001;o=0" {
		t.Fatalf("unexpected echoed header %q", echo)
	}
}

func TestTraceMiddlewareMintsTraceWhenHeaderAbsent(t *testing.T) {
	rr, info := serveWithTrace(t, "")

	if info.TraceID == "" {
		t.Fatal("expected a minted trace id for headerless requests")
	}
	if rr.Header().Get(cloudTraceHeader) == "" {
		t.Fatal("expected the resolved trace header to be echoed")
	}
}

func TestTraceMiddlewareRejectsMalformedHeader(t *testing.T) {
	_, info := serveWithTrace(t, "not-a-trace-context")

	if info.TraceID == "" {
		t.Fatal("expected a minted trace id when the header is malformed")
	}
	if info.TraceID == "not-a-trace-context" {
		t.Fatal("malformed header must not pass through")
	}
}
