package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/config"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestNew_Timeout(t *testing.T) {
	if got := New(nil).checkTimeout; got != config.DefaultHealthCheckTimeout {
		t.Errorf("nil config timeout = %v", got)
	}
	if got := New(&config.HealthConfig{CheckTimeout: time.Second}).checkTimeout; got != time.Second {
		t.Errorf("custom timeout = %v", got)
	}
}

func TestCheckReadiness(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]CheckFunc
		want   string
	}{
		{"no checks", nil, StatusReady},
		{"all ok", map[string]CheckFunc{"store": PingCheck(fakePinger{})}, StatusReady},
		{
			name: "one failing",
			checks: map[string]CheckFunc{
				"store": PingCheck(fakePinger{}),
				"rules": PingCheck(fakePinger{err: errors.New("reload failed")}),
			},
			want: StatusNotReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(nil)
			for name, check := range tt.checks {
				c.Register(name, check)
			}
			status := c.CheckReadiness(context.Background())
			if status.Status != tt.want {
				t.Errorf("Status = %s, want %s", status.Status, tt.want)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("got %d results, want %d", len(status.Checks), len(tt.checks))
			}
		})
	}
}

func TestCheckReadiness_Timeout(t *testing.T) {
	c := New(&config.HealthConfig{CheckTimeout: 20 * time.Millisecond})
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	status := c.CheckReadiness(context.Background())
	if status.Checks["slow"].Message != "health check timeout" {
		t.Errorf("slow check = %+v", status.Checks["slow"])
	}
}

func TestFreshnessCheck(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		last    time.Time
		wantErr bool
	}{
		{"never ran", time.Time{}, true},
		{"recent", now.Add(-time.Second), false},
		{"stale", now.Add(-time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := FreshnessCheck("expiry sweep", func() time.Time { return tt.last }, time.Minute)
			if err := check(context.Background()); (err != nil) != tt.wantErr {
				t.Errorf("check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMount(t *testing.T) {
	cfg := &config.HealthConfig{LivenessPath: "/health", ReadinessPath: "/ready"}
	c := New(cfg)
	c.Register("store", PingCheck(fakePinger{err: errors.New("down")}))

	mux := http.NewServeMux()
	Mount(mux, c, cfg, "1.2.3", "abc")

	tests := []struct {
		method string
		path   string
		code   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusServiceUnavailable},
		{http.MethodGet, "/version", http.StatusOK},
		{http.MethodPost, "/health", http.StatusMethodNotAllowed},
		{http.MethodHead, "/health", http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.code {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.code)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil || info.Version != "1.2.3" {
		t.Errorf("version body = %+v, err %v", info, err)
	}
}
