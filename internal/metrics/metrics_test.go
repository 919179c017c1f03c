package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSnapMirrorsCounters(t *testing.T) {
	before := Snap()
	IncUARTRx()
	IncDropOverflow()
	IncDropNotConfigured()
	IncSendRetry()
	IncError(ErrSerialRead)
	after := Snap()
	if after.UARTRx != before.UARTRx+1 {
		t.Fatalf("UARTRx not mirrored")
	}
	if after.DropOverflow != before.DropOverflow+1 || after.DropNotReady != before.DropNotReady+1 {
		t.Fatalf("drop counters not mirrored: %+v", after)
	}
	if after.SendRetries != before.SendRetries+1 || after.Errors != before.Errors+1 {
		t.Fatalf("retry/error counters not mirrored: %+v", after)
	}
}

func TestReadinessFunc(t *testing.T) {
	t.Cleanup(func() { SetReadinessFunc(nil) })
	if !IsReady() {
		t.Fatalf("unset readiness must report ready")
	}
	SetReadinessFunc(func() bool { return false })
	if IsReady() {
		t.Fatalf("expected not ready")
	}
}

func TestReadyHandlerStatus(t *testing.T) {
	t.Cleanup(func() { SetReadinessFunc(nil) })
	SetReadinessFunc(func() bool { return false })
	srv := StartHTTP("127.0.0.1:0")
	defer srv.Close()
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
