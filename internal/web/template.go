package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"time"

	"github.com/sweeney/gpiowatch/internal/event"
	"github.com/sweeney/gpiowatch/internal/status"
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
	"stateOrUnknown": func(o event.Outcome) string {
		if o == "" {
			return status.Unknown
		}
		return string(o)
	},
	"stateClass": func(o event.Outcome) string {
		switch o {
		case event.Pressed:
			return "pressed"
		case event.Released:
			return "released"
		}
		return "unknown"
	},
	"clock": func(t time.Time) string {
		return t.UTC().Format("15:04:05")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>gpiowatch</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.pressed { color: green; font-weight: bold; }
.released { color: #888; }
.unknown { color: orange; }
.error { color: red; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; background: orange; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
</style>
</head>
<body>
<h1>gpiowatch<span id="live-dot" class="live-dot" title="connecting"></span></h1>

<h2>Pins</h2>
<table>
{{range .Pins}}<tr><th>GPIO{{.Pin}}</th><td id="pin-{{.Pin}}" class="{{stateClass .State}}">{{stateOrUnknown .State}}</td><td>{{.Counts.Pressed}}/{{.Counts.Released}}/{{.Counts.Errors}}</td></tr>
{{else}}<tr><td>no pins open</td></tr>
{{end}}</table>

<h2>Recent Events</h2>
<ul id="events">
{{range .Recent}}<li{{if eq .Outcome "ERROR"}} class="error"{{end}}>{{clock .Time}} {{.String}}</li>
{{end}}</ul>

<h2>Watcher</h2>
<table>
<tr><th>State</th><td>{{.Watcher}}</td></tr>
<tr><th>Restarts</th><td>{{.Restarts}}</td></tr>
<tr><th>Wakeups</th><td>{{.WatcherStats.Wakeups}}</td></tr>
<tr><th>Timeouts</th><td>{{.WatcherStats.Timeouts}}</td></tr>
<tr><th>Read errors</th><td>{{.WatcherStats.ReadErrors}}</td></tr>
<tr><th>Rewind failures</th><td>{{.WatcherStats.RewindFailures}}</td></tr>
<tr><th>Dropped events</th><td>{{.Dropped}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Backend</th><td>{{.Config.Backend}}</td></tr>
<tr><th>Pressed level</th><td>{{.Config.PressedLevel}}</td></tr>
<tr><th>Timeout</th><td>{{.Config.TimeoutMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if .Config.HeartbeatMs}}{{.Config.HeartbeatMs}}ms{{else}}off{{end}}</td></tr>
<tr><th>Caller</th><td>{{.Config.Caller}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var list = document.getElementById("events");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/events");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(m) {
      try {
        var e = JSON.parse(m.data);
        var li = document.createElement("li");
        li.textContent = e.timestamp.substr(11, 8) + " " + e.message;
        if (e.event === "ERROR") { li.className = "error"; }
        list.insertBefore(li, list.firstChild);
        while (list.children.length > {{.MaxRecent}}) { list.removeChild(list.lastChild); }
        var cell = document.getElementById("pin-" + e.pin);
        if (cell && e.event !== "ERROR") {
          cell.textContent = e.event;
          cell.className = e.event.toLowerCase();
        }
      } catch (err) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime    time.Duration
		MaxRecent int
	}{
		Snapshot:  snap,
		Uptime:    snap.Uptime(),
		MaxRecent: status.MaxRecent,
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render: %v", err)
	}
}
