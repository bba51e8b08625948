package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/charlie0129/rccal/pkg/types"
	"github.com/charlie0129/rccal/pkg/utils/ptr"
)

func serveUnix(t *testing.T, h http.Handler) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rccal.sock")
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: h}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })
	return path
}

func TestDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.GetStatus()
	if !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestAPIs(t *testing.T) {
	var lastBody string
	mux := http.NewServeMux()
	mux.HandleFunc("/lsi", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "38012")
	})
	mux.HandleFunc("/calibration/bounded", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		lastBody = string(b)
		fmt.Fprint(w, `{"status":"Success","trim":61,"hz":16040000,"steps":[{"index":0,"trim":62,"hz":16080000,"errorHz":80000}]}`)
	})
	mux.HandleFunc("/watchdog", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":"calibration already in progress"}`)
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"version":"v0.1.0","gitCommit":"abc"}`)
	})
	c := NewClient(serveUnix(t, mux))

	hz, err := c.MeasureLSI()
	if err != nil || hz != 38012 {
		t.Fatalf("MeasureLSI() = %d, %v", hz, err)
	}

	limit := uint32(60000)
	res, err := c.CalibrateBounded(&limit)
	if err != nil {
		t.Fatalf("CalibrateBounded: %v", err)
	}
	if res.Trim != 61 || len(res.Steps) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if lastBody != `{"maxErrorHz":60000}` {
		t.Fatalf("request body = %q", lastBody)
	}

	_, err = c.ConfigureWatchdog(nil)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	v, err := c.GetVersion()
	if err != nil || v.Version != "v0.1.0" {
		t.Fatalf("GetVersion() = %+v, %v", v, err)
	}

	if _, err := c.GetConfig(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetConfig(t *testing.T) {
	var method, body string
	mux := http.NewServeMux()
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		fmt.Fprint(w, `{"targetHz":8000000,"sampleCount":20}`)
	})
	c := NewClient(serveUnix(t, mux))

	raw, err := c.SetConfig(types.ConfigUpdate{TargetHz: ptr.To(uint32(8000000))})
	if err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if method != http.MethodPut || body != `{"targetHz":8000000}` {
		t.Fatalf("request %s %q", method, body)
	}
	if *raw.TargetHz != 8000000 || *raw.SampleCount != 20 {
		t.Fatalf("unexpected config %+v", raw)
	}
}
