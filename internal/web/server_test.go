package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/pump-scheduler/internal/activation"
	"github.com/sweeney/pump-scheduler/internal/status"
)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		ConfigPath:  "/etc/pump-scheduler/pinschedule.json",
		TickMs:      1000,
		HeartbeatMs: 900000,
		Timezone:    "Europe/London",
		Chip:        "gpiochip0",
		Broker:      "tcp://192.168.1.200:1883",
		HTTPAddr:    ":8080",
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetMQTTConnected(true)
	tr.SetSchedules([]status.ScheduleInfo{{ID: 1, Pin: 16, TotalOnSec: 10, OnSec: 4, OffSec: 6, Cron: "0 * * * * *"}})
	tr.Notify(activation.Event{Type: activation.EventRunStart, RunID: "r1", Pin: 16, TotalOnSec: 10, OnSec: 4, OffSec: 6})

	resp, body := get(t, ts.URL+"/index.json")
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.Unmarshal([]byte(body), &sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if sj.Status.Schedules != 1 {
		t.Errorf("Schedules: got %d, want 1", sj.Status.Schedules)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.ActiveRun == nil || sj.Status.ActiveRun.RunID != "r1" {
		t.Errorf("unexpected active run: %+v", sj.Status.ActiveRun)
	}
	if sj.Status.Config.Timezone != "Europe/London" {
		t.Errorf("Config.Timezone: got %q", sj.Status.Config.Timezone)
	}
	if sj.Status.ConfigFile.Path != "/etc/pump-scheduler/pinschedule.json" {
		t.Errorf("ConfigFile.Path: got %q", sj.Status.ConfigFile.Path)
	}
}

func TestSchedulesEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetSchedules([]status.ScheduleInfo{
		{ID: 2, Pin: 5, TotalOnSec: 20, OnSec: 5, OffSec: 5, Cron: "@hourly"},
		{ID: 1, Pin: 16, TotalOnSec: 10, OnSec: 4, OffSec: 6, Cron: "0 * * * * *"},
	})

	resp, body := get(t, ts.URL+"/schedules.json")
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}

	var sj status.SchedulesJSON
	if err := json.Unmarshal([]byte(body), &sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if len(sj.Schedules) != 2 {
		t.Fatalf("expected 2 schedules, got %d", len(sj.Schedules))
	}
	if sj.Schedules[0].ID != 1 || sj.Schedules[1].Cron != "@hourly" {
		t.Errorf("unexpected schedules: %+v", sj.Schedules)
	}
}

func TestIndexHTML(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetSchedules([]status.ScheduleInfo{{ID: 7, Pin: 16, TotalOnSec: 10, OnSec: 4, OffSec: 6, Cron: "0 30 6 * * *"}})

	for _, path := range []string{"/", "/index.html"} {
		resp, body := get(t, ts.URL+path)
		if resp.StatusCode != 200 {
			t.Errorf("%s: status %d", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s: Content-Type %q", path, ct)
		}
		for _, want := range []string{"Pump Scheduler", "0 30 6 * * *", `id="idle"`, "tcp://192.168.1.200:1883", "900000ms"} {
			if !strings.Contains(body, want) {
				t.Errorf("%s: body missing %q", path, want)
			}
		}
	}
}

func TestIndexHTMLShowsRuns(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.Notify(activation.Event{Type: activation.EventRunStart, RunID: "a", Pin: 16, TotalOnSec: 10, OnSec: 4})
	tr.Notify(activation.Event{Type: activation.EventRunFailed, RunID: "a", Pin: 16, Reason: "energize pin 16: line busy"})
	tr.Notify(activation.Event{Type: activation.EventRunStart, RunID: "b", Pin: 5, TotalOnSec: 20, OnSec: 5})
	tr.Notify(activation.Event{Type: activation.EventBurstOn, RunID: "b", Pin: 5, Burst: 1, RemainingSec: 20})

	_, body := get(t, ts.URL+"/")
	if strings.Contains(body, `id="idle"`) {
		t.Error("page should show the active run")
	}
	for _, want := range []string{"20s of 20s", "FAILED", "line busy"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestIndexHTMLShowsConfigError(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.ConfigRejected(errTest("entry 0: pin must be >= 0"))

	_, body := get(t, ts.URL+"/")
	if !strings.Contains(body, "entry 0: pin must be &gt;= 0") {
		t.Error("config error should be shown (escaped)")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

func TestUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := get(t, ts.URL+"/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}
