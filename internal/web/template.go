package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/pump-scheduler/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Pump Scheduler</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.error { color: red; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Pump Scheduler</h1>

<h2>Active Run</h2>
{{with .Active}}<table>
<tr><th>Pin</th><td>{{.Pin}}</td></tr>
<tr><th>Output</th><td class="{{if .Energized}}on{{else}}off{{end}}">{{if .Energized}}ON{{else}}resting{{end}}</td></tr>
<tr><th>Burst</th><td>{{.Burst}}</td></tr>
<tr><th>Remaining</th><td>{{.RemainingSec}}s of {{.TotalOnSec}}s</td></tr>
<tr><th>Started</th><td>{{stamp .Started}}</td></tr>
</table>{{else}}<p id="idle" class="off">idle</p>{{end}}

<h2>Schedules</h2>
<table>
<tr><th>ID</th><th>Pin</th><th>Cron</th><th>Total</th><th>On</th><th>Off</th><th>Next</th></tr>
{{range .Schedules}}<tr><td>{{.ID}}</td><td>{{.Pin}}</td><td>{{.Cron}}</td><td>{{.TotalOnSec}}s</td><td>{{.OnSec}}s</td><td>{{.OffSec}}s</td><td>{{stamp .Next}}</td></tr>
{{else}}<tr><td colspan="7">no schedules</td></tr>
{{end}}</table>

{{with .Last}}<h2>Last Run</h2>
<table>
<tr><th>Pin</th><td>{{.Pin}}</td></tr>
<tr><th>Outcome</th><td class="{{if eq .Outcome "COMPLETE"}}on{{else}}error{{end}}">{{.Outcome}}</td></tr>
{{if .Reason}}<tr><th>Reason</th><td>{{.Reason}}</td></tr>{{end}}
<tr><th>Started</th><td>{{stamp .Started}}</td></tr>
<tr><th>Finished</th><td>{{stamp .Finished}}</td></tr>
</table>{{end}}

<h2>Counts</h2>
<table>
<tr><th>Runs</th><td>{{.Counts.Runs}}</td></tr>
<tr><th>Completed</th><td>{{.Counts.Completed}}</td></tr>
<tr><th>Rejected</th><td>{{.Counts.Rejected}}</td></tr>
<tr><th>Failed</th><td>{{.Counts.Failed}}</td></tr>
<tr><th>Unknown triggers</th><td>{{.Counts.UnknownTriggers}}</td></tr>
</table>

<h2>Config</h2>
<table>
<tr><th>File</th><td>{{.Config.ConfigPath}}</td></tr>
<tr><th>Loaded</th><td>{{stamp .ConfigLoaded}}</td></tr>
{{if .ConfigError}}<tr><th>Last error</th><td class="error">{{.ConfigError}}</td></tr>{{end}}
<tr><th>Timezone</th><td>{{.Config.Timezone}}</td></tr>
<tr><th>Chip</th><td>{{.Config.Chip}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{stamp .StartTime}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/schedules.json">schedules</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
