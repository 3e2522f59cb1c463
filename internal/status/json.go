package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Schedules     int            `json:"schedules"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Counts        CountsJSON     `json:"counts"`
	ActiveRun     *RunJSON       `json:"active_run,omitempty"`
	LastRun       *RunJSON       `json:"last_run,omitempty"`
	ConfigFile    ConfigFileJSON `json:"config_file"`
	Config        ConfigJSON     `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of Counts.
type CountsJSON struct {
	Runs            int `json:"runs"`
	Completed       int `json:"completed"`
	Rejected        int `json:"rejected"`
	Failed          int `json:"failed"`
	UnknownTriggers int `json:"unknown_triggers"`
	ConfigApplied   int `json:"config_applied"`
	ConfigRejected  int `json:"config_rejected"`
}

// RunJSON is the JSON representation of a run.
type RunJSON struct {
	RunID        string `json:"run_id,omitempty"`
	Trigger      uint64 `json:"trigger_id,omitempty"`
	Pin          int    `json:"pin"`
	TotalOnSec   int    `json:"total_on_sec"`
	OnSec        int    `json:"on_sec"`
	OffSec       int    `json:"off_sec"`
	Burst        int    `json:"burst"`
	RemainingSec int    `json:"remaining_sec"`
	Energized    bool   `json:"energized"`
	Started      string `json:"started"`
	Finished     string `json:"finished,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// ConfigFileJSON reports the state of the schedule file.
type ConfigFileJSON struct {
	Path     string `json:"path"`
	LoadedAt string `json:"loaded_at,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs      int64  `json:"tick_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Timezone    string `json:"timezone"`
	Chip        string `json:"chip"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

// SchedulesJSON is the envelope for the schedule listing.
type SchedulesJSON struct {
	Schedules []ScheduleJSON `json:"schedules"`
}

// ScheduleJSON is one registered schedule.
type ScheduleJSON struct {
	ID         uint64 `json:"id"`
	Pin        int    `json:"pin"`
	TotalOnSec int    `json:"total_on_sec"`
	OnSec      int    `json:"on_sec"`
	OffSec     int    `json:"off_sec"`
	Cron       string `json:"cron_str"`
	Next       string `json:"next,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildRun(r *RunInfo) *RunJSON {
	if r == nil {
		return nil
	}
	return &RunJSON{
		RunID:        r.RunID,
		Trigger:      r.Trigger,
		Pin:          r.Pin,
		TotalOnSec:   r.TotalOnSec,
		OnSec:        r.OnSec,
		OffSec:       r.OffSec,
		Burst:        r.Burst,
		RemainingSec: r.RemainingSec,
		Energized:    r.Energized,
		Started:      formatTime(r.Started),
		Finished:     formatTime(r.Finished),
		Outcome:      r.Outcome,
		Reason:       r.Reason,
	}
}

func buildInner(snap Snapshot) StatusInner {
	return StatusInner{
		Schedules:     len(snap.Schedules),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     formatTime(snap.StartTime),
		Timestamp:     formatTime(snap.Now),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:        CountsJSON(snap.Counts),
		ActiveRun:     buildRun(snap.Active),
		LastRun:       buildRun(snap.Last),
		ConfigFile: ConfigFileJSON{
			Path:     snap.Config.ConfigPath,
			LoadedAt: formatTime(snap.ConfigLoaded),
			Error:    snap.ConfigError,
		},
		Config: ConfigJSON{
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Timezone:    snap.Config.Timezone,
			Chip:        snap.Config.Chip,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatSchedules returns the JSON listing of registered schedules.
func FormatSchedules(snap Snapshot) []byte {
	out := SchedulesJSON{Schedules: make([]ScheduleJSON, 0, len(snap.Schedules))}
	for _, s := range snap.Schedules {
		out.Schedules = append(out.Schedules, ScheduleJSON{
			ID:         s.ID,
			Pin:        s.Pin,
			TotalOnSec: s.TotalOnSec,
			OnSec:      s.OnSec,
			OffSec:     s.OffSec,
			Cron:       s.Cron,
			Next:       formatTime(s.Next),
		})
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return data
}
