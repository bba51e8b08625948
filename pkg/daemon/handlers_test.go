package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlie0129/rccal/pkg/calibration"
	"github.com/charlie0129/rccal/pkg/config"
	"github.com/charlie0129/rccal/pkg/display"
	"github.com/charlie0129/rccal/pkg/events"
	"github.com/charlie0129/rccal/pkg/sim"
	"github.com/charlie0129/rccal/pkg/types"
	"github.com/charlie0129/rccal/pkg/utils/ptr"
	"github.com/charlie0129/rccal/pkg/watchdog"
)

// setupSimDaemon wires the package globals to a running simulated bench.
func setupSimDaemon(t *testing.T) (*gin.Engine, *display.Recorder) {
	t.Helper()

	conf = config.NewFileFromConfig(&config.RawFileConfig{
		CaptureTimeoutMs: ptr.To(5000),
	}, filepath.Join(t.TempDir(), "rccal.json"))

	b, err := newSimBench(sim.DefaultModel, conf.InputDivider())
	if err != nil {
		t.Fatalf("newSimBench: %v", err)
	}
	bench = b

	rec := &display.Recorder{}
	screen = rec
	sseHub = events.NewEventHub()
	status = &types.Status{Backend: config.BackendSim}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bench.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return setupRoutes(), rec
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestPostMinError(t *testing.T) {
	router, rec := setupSimDaemon(t)

	w := do(router, http.MethodPost, "/calibration/min-error", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	res := decode[calibration.MinErrorResult](t, w)
	if res.OptimalTrim != sim.DefaultModel.FactoryTrim-4 {
		t.Fatalf("optimal trim = %#x", res.OptimalTrim)
	}
	if len(res.Steps) != calibration.DefaultWindow.Size() {
		t.Fatalf("expected %d steps, got %d", calibration.DefaultWindow.Size(), len(res.Steps))
	}

	if len(rec.Reports) != 1 || rec.Reports[0].Status != calibration.StatusSuccess {
		t.Fatalf("unexpected reports %+v", rec.Reports)
	}

	st := decode[types.Status](t, do(router, http.MethodGet, "/status", ""))
	if st.MinError == nil || st.Summary == nil || st.Report == nil {
		t.Fatalf("status not updated: %+v", st)
	}
	if st.Report.AfterHz != res.OptimalHz || st.Report.BeforeHz != res.DefaultHz {
		t.Fatalf("report mismatch: %+v", st.Report)
	}
	if st.Running != "" {
		t.Fatalf("run still marked as running: %q", st.Running)
	}
}

func TestPostBounded(t *testing.T) {
	router, rec := setupSimDaemon(t)

	tests := []struct {
		name   string
		body   string
		status calibration.Status
		trim   uint8
	}{
		{
			name:   "default limit",
			body:   "",
			status: calibration.StatusSuccess,
			trim:   sim.DefaultModel.FactoryTrim - 3,
		},
		{
			name:   "unreachable limit",
			body:   `{"maxErrorHz": 0}`,
			status: calibration.StatusFailure,
			trim:   sim.DefaultModel.FactoryTrim,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/calibration/bounded", tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status %d: %s", w.Code, w.Body.String())
			}
			res := decode[calibration.BoundedResult](t, w)
			if res.Status != tt.status || res.Trim != tt.trim {
				t.Fatalf("unexpected result %+v", res)
			}
			last := rec.Reports[len(rec.Reports)-1]
			if last.Status != tt.status {
				t.Fatalf("report status = %s", last.Status)
			}
		})
	}
}

func TestPostBoundedInvalidBody(t *testing.T) {
	router, _ := setupSimDaemon(t)

	w := do(router, http.MethodPost, "/calibration/bounded", `{"maxErrorHz": "fast"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCalibrationInProgress(t *testing.T) {
	router, _ := setupSimDaemon(t)

	runMu.Lock()
	defer runMu.Unlock()

	for _, path := range []string{"/calibration/min-error", "/calibration/bounded", "/lsi", "/watchdog"} {
		w := do(router, http.MethodPost, path, "")
		if w.Code != http.StatusConflict {
			t.Fatalf("%s: expected 409, got %d", path, w.Code)
		}
		if e := decode[types.ErrorResponse](t, w); e.Error != ErrCalibrationInProgress.Error() {
			t.Fatalf("%s: error = %q", path, e.Error)
		}
	}
}

func TestPostWatchdog(t *testing.T) {
	router, _ := setupSimDaemon(t)

	w := do(router, http.MethodPost, "/watchdog", `{"timeoutUs": 20000}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	plan := decode[watchdog.Plan](t, w)
	if plan.Prescaler != 4 {
		t.Fatalf("prescaler = %d", plan.Prescaler)
	}
	// The LSI of the model is 38 kHz, measured against an uncalibrated HSI.
	if plan.Reload < 180 || plan.Reload > 195 {
		t.Fatalf("reload = %d", plan.Reload)
	}

	st := currentStatus()
	if st.LSIHz == 0 || st.Watchdog == nil {
		t.Fatalf("status not updated: %+v", st)
	}
}

func TestPostWatchdogNoBracket(t *testing.T) {
	router, _ := setupSimDaemon(t)

	w := do(router, http.MethodPost, "/watchdog", `{"timeoutUs": 1}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPostLSI(t *testing.T) {
	router, _ := setupSimDaemon(t)

	w := do(router, http.MethodPost, "/lsi", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	hz := decode[uint32](t, w)
	if hz < 37000 || hz > 39000 {
		t.Fatalf("lsi = %d", hz)
	}
}

func TestGetConfigAndVersion(t *testing.T) {
	router, _ := setupSimDaemon(t)

	raw := decode[config.RawFileConfig](t, do(router, http.MethodGet, "/config", ""))
	if raw.CaptureTimeoutMs == nil || *raw.CaptureTimeoutMs != 5000 {
		t.Fatalf("captureTimeoutMs = %v", raw.CaptureTimeoutMs)
	}
	if raw.TargetHz == nil || *raw.TargetHz != 16000000 {
		t.Fatalf("targetHz = %v", raw.TargetHz)
	}

	v := decode[types.VersionInfo](t, do(router, http.MethodGet, "/version", ""))
	if v.Version == "" {
		t.Fatalf("empty version")
	}
}

// closeNotifyingRecorder lets gin's Stream watch for a gone client.
type closeNotifyingRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyingRecorder) CloseNotify() <-chan bool {
	return r.closed
}

func TestGetEvents(t *testing.T) {
	router, _ := setupSimDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := &closeNotifyingRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(w, req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sseHub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("handler never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	sseHub.Publish(events.LSIMeasured, events.LSIMeasuredEvent{Hz: 38000})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event:"+events.LSIMeasured) || !strings.Contains(body, `"hz":38000`) {
		t.Fatalf("unexpected stream %q", body)
	}
}

func TestPutConfig(t *testing.T) {
	router, _ := setupSimDaemon(t)
	path := filepath.Join(t.TempDir(), "rccal.json")
	conf = config.NewFileFromConfig(&config.RawFileConfig{
		CaptureTimeoutMs: ptr.To(5000),
	}, path)

	w := do(router, http.MethodPut, "/config", `{"targetHz": 8000000, "upperThreshold": 10, "maxAllowedError": 30000, "allowNonRootAccess": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	raw := decode[config.RawFileConfig](t, w)
	if *raw.TargetHz != 8000000 || *raw.UpperThreshold != 10 || *raw.LowerThreshold != calibration.DefaultWindow.Lower {
		t.Fatalf("unexpected config %+v", raw)
	}

	saved, err := config.NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if saved.TargetHz() != 8000000 || saved.MaxAllowedError() != 30000 || !saved.AllowNonRootAccess() {
		t.Fatalf("update not saved: %+v", saved.LogrusFields())
	}
	if saved.CaptureTimeout() != 5*time.Second {
		t.Fatalf("unrelated field lost: %s", saved.CaptureTimeout())
	}
}

func TestPutConfigInvalid(t *testing.T) {
	router, _ := setupSimDaemon(t)
	path := filepath.Join(t.TempDir(), "rccal.json")
	conf = config.NewFileFromConfig(nil, path)

	tests := []struct {
		name string
		body string
	}{
		{name: "threshold", body: `{"targetHz": 8000000, "upperThreshold": 200}`},
		{name: "zero samples", body: `{"targetHz": 8000000, "sampleCount": 0}`},
		{name: "type", body: `{"targetHz": "fast"}`},
		{name: "empty", body: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPut, "/config", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			// Nothing is applied from a rejected update.
			if conf.TargetHz() != 16000000 {
				t.Fatalf("targetHz changed to %d", conf.TargetHz())
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Fatalf("config file written: %v", err)
			}
		})
	}
}

func TestBenchOptionsResolve(t *testing.T) {
	c := config.NewFileFromConfig(&config.RawFileConfig{
		SerialPort: ptr.To("/dev/ttyUSB1"),
	}, "")

	tests := []struct {
		name    string
		opts    BenchOptions
		want    BenchOptions
		wantErr bool
	}{
		{
			name: "from config",
			want: BenchOptions{Backend: config.BackendSim, SerialPort: "/dev/ttyUSB1"},
		},
		{
			name: "override",
			opts: BenchOptions{Backend: config.BackendSerial, SerialPort: "/dev/ttyACM0"},
			want: BenchOptions{Backend: config.BackendSerial, SerialPort: "/dev/ttyACM0"},
		},
		{
			name:    "unknown backend",
			opts:    BenchOptions{Backend: "jtag"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.resolve(c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolve() error = %v", err)
			}
			if !tt.wantErr && got != tt.want {
				t.Fatalf("resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
