package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/sweeney/pump-scheduler/internal/activation"
	"github.com/sweeney/pump-scheduler/internal/config"
	"github.com/sweeney/pump-scheduler/internal/cron"
	"github.com/sweeney/pump-scheduler/internal/gpio"
	"github.com/sweeney/pump-scheduler/internal/logging"
	"github.com/sweeney/pump-scheduler/internal/mqtt"
	"github.com/sweeney/pump-scheduler/internal/scheduler"
	"github.com/sweeney/pump-scheduler/internal/schedule"
	"github.com/sweeney/pump-scheduler/internal/status"
	"github.com/sweeney/pump-scheduler/internal/web"
)

// System event names published on mqtt.TopicSystem.
const (
	eventStartup        = "STARTUP"
	eventShutdown       = "SHUTDOWN"
	eventHeartbeat      = "HEARTBEAT"
	eventConfigApplied  = "CONFIG_APPLIED"
	eventConfigRejected = "CONFIG_REJECTED"
)

func run(s settings) error {
	log := logging.New(logging.Options{Level: s.LogLevel, JSON: s.LogJSON})

	loc, err := loadLocation(s.Timezone)
	if err != nil {
		return err
	}

	// Initialize GPIO and force every known output off
	out, err := gpio.NewRealWriter(gpio.Options{Chip: s.Chip, ActiveLow: s.ActiveLow})
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Error().Err(err).Msg("close gpio")
		}
	}()
	if err := out.Prepare(s.Pins...); err != nil {
		return fmt.Errorf("prepare pins: %w", err)
	}

	// Initialize MQTT
	var publisher mqtt.Publisher = mqtt.NopPublisher{}
	var mqttStatus mqtt.ConnectionStatus = mqtt.NopPublisher{}
	if s.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{Broker: s.Broker, Log: logging.Component(log, "mqtt")})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher, mqttStatus = p, p
	}
	defer publisher.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		ConfigPath:  s.ConfigPath,
		TickMs:      s.Tick.Milliseconds(),
		HeartbeatMs: s.Heartbeat.Milliseconds(),
		Timezone:    loc.String(),
		Chip:        s.Chip,
		Broker:      s.Broker,
		HTTPAddr:    s.HTTPAddr,
	})

	engine := cron.New(cron.Options{Location: loc, Log: logging.Component(log, "cron")})
	l := &loop{
		engine:     engine,
		loader:     config.NewLoader(afero.NewOsFs(), s.ConfigPath),
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		now:        time.Now,
		sleep:      time.Sleep,
		sdNotify:   func(state string) { _, _ = daemon.SdNotify(false, state) },
		log:        log,
	}
	if wd, err := daemon.SdWatchdogEnabled(false); err == nil && wd > 0 {
		l.watchdog = wd
	}

	activator := activation.New(out, activation.Options{
		Sleep:    l.sleepAwake,
		Notifier: eventFanout(tracker, publisher, log),
		Log:      logging.Component(log, "activation"),
	})
	l.sched = scheduler.New(engine, activator, logging.Component(log, "scheduler"))

	// Start HTTP status server
	if s.HTTPAddr != "" {
		srv := web.New(s.HTTPAddr, tracker, logging.Component(log, "web"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", s.HTTPAddr).Msg("http status server listening")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reload <-chan struct{}
	if s.Watch {
		reload, err = config.Watch(ctx, s.ConfigPath, config.DefaultDebounce, logging.Component(log, "config"))
		if err != nil {
			// The daemon still runs; the document is just not hot reloaded.
			log.Warn().Err(err).Msg("config watch disabled")
		}
	}

	l.start()
	log.Info().Dur("tick", s.Tick).Str("timezone", loc.String()).Str("config", s.ConfigPath).
		Dur("heartbeat", s.Heartbeat).Msg("started")

	ticker := time.NewTicker(s.Tick)
	defer ticker.Stop()

	var heartbeat <-chan time.Time
	if s.Heartbeat > 0 {
		hb := time.NewTicker(s.Heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	return l.run(ticker.C, reload, heartbeat, sigCh)
}

// eventFanout sends every activation event to the status tracker and MQTT.
func eventFanout(tracker *status.Tracker, publisher mqtt.Publisher, log zerolog.Logger) activation.Notifier {
	return activation.NotifierFunc(func(ev activation.Event) {
		tracker.Notify(ev)
		if err := publisher.Publish(ev); err != nil {
			// Don't fail the run on publish failure
			log.Error().Err(err).Str("event", string(ev.Type)).Msg("publish error")
		}
	})
}

// loop is the daemon's single thread of control: cron evaluation, duty
// cycles and config reloads all happen inside run.
type loop struct {
	engine     *cron.Engine
	sched      *scheduler.Scheduler
	loader     *config.Loader
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	now        func() time.Time
	sleep      func(time.Duration)
	sdNotify   func(state string)
	watchdog   time.Duration
	log        zerolog.Logger

	lastPing time.Time
}

// start applies the schedule document and announces the daemon. A missing
// document at startup means no schedules.
func (l *loop) start() {
	l.applyConfig(true)
	l.refreshStatus()
	l.publishSystem(eventStartup, "", true)
	l.notify(daemon.SdNotifyReady)
}

func (l *loop) run(tick <-chan time.Time, reload <-chan struct{}, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			if s == syscall.SIGHUP {
				l.log.Info().Msg("received SIGHUP, reloading")
				l.applyConfig(false)
				l.refreshStatus()
				continue
			}
			name := signalName(s)
			l.log.Info().Str("signal", name).Msg("shutting down")
			l.notify(daemon.SdNotifyStopping)
			l.refreshStatus()
			l.publishSystem(eventShutdown, name, true)
			return nil

		case _, ok := <-reload:
			if !ok {
				l.log.Warn().Msg("config watcher stopped")
				reload = nil
				continue
			}
			l.applyConfig(false)
			l.refreshStatus()

		case <-heartbeat:
			l.refreshStatus()
			snap := l.tracker.Snapshot()
			l.log.Info().Dur("uptime", snap.Uptime().Truncate(time.Second)).Int("schedules", len(snap.Schedules)).
				Int("runs", snap.Counts.Runs).Int("failed", snap.Counts.Failed).Msg("heartbeat")
			l.publishSystem(eventHeartbeat, "", false)

		case <-tick:
			if n := l.engine.Tick(l.now()); n > 0 {
				l.log.Debug().Int("fired", n).Msg("triggers fired")
			}
			l.refreshStatus()
			l.pingWatchdog()
		}
	}
}

// applyConfig loads and applies the schedule document. On any failure the
// current schedules are kept.
func (l *loop) applyConfig(initial bool) {
	doc, err := l.loader.Load()
	if errors.Is(err, config.ErrNotFound) && initial {
		l.log.Warn().Str("path", l.loader.Path()).Msg("no schedule document, running with no schedules")
		doc, err = schedule.Document{}, nil
	}
	if err == nil {
		var res scheduler.ApplyResult
		res, err = l.sched.Apply(doc)
		if err == nil {
			l.tracker.ConfigApplied(l.now())
			l.publishSystem(eventConfigApplied,
				fmt.Sprintf("%d schedules, %d skipped", len(res.Registered), len(res.Skipped)), false)
			return
		}
	}

	l.log.Error().Err(err).Str("path", l.loader.Path()).Msg("schedule document rejected, keeping current schedules")
	l.tracker.ConfigRejected(err)
	l.publishSystem(eventConfigRejected, err.Error(), false)
}

// refreshStatus copies scheduler and connection state into the tracker.
func (l *loop) refreshStatus() {
	next := map[cron.ID]time.Time{}
	for _, e := range l.engine.Entries() {
		next[e.ID] = e.Next
	}
	var infos []status.ScheduleInfo
	for _, e := range l.sched.Entries() {
		infos = append(infos, status.ScheduleInfo{
			ID:         uint64(e.ID),
			Pin:        e.Descriptor.Pin,
			TotalOnSec: e.Descriptor.TotalOnSec,
			OnSec:      e.Descriptor.OnSec,
			OffSec:     e.Descriptor.OffSec,
			Cron:       e.Descriptor.TriggerExpression,
			Next:       next[e.ID],
		})
	}
	l.tracker.SetSchedules(infos)
	l.tracker.SetUnknownTriggers(l.sched.Stats().UnknownTriggers)
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

// publishSystem sends a system event carrying a full status snapshot.
func (l *loop) publishSystem(event, reason string, retained bool) {
	snap := l.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  l.now(),
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := l.publisher.PublishSystem(ev); err != nil {
		l.log.Error().Err(err).Str("event", event).Msg("failed to publish system event")
	}
}

func (l *loop) pingWatchdog() {
	if l.watchdog <= 0 {
		return
	}
	t := l.now()
	if t.Sub(l.lastPing) < l.watchdog/2 {
		return
	}
	l.lastPing = t
	l.notify(daemon.SdNotifyWatchdog)
}

// sleepAwake is the duty cycle's sleep. A cycle blocks the loop, so the
// watchdog is fed from here at least every watchdog/2.
func (l *loop) sleepAwake(d time.Duration) {
	if l.watchdog <= 0 {
		l.sleep(d)
		return
	}
	for d > 0 {
		l.pingWatchdog()
		step := min(d, l.lastPing.Add(l.watchdog/2).Sub(l.now()))
		l.sleep(step)
		d -= step
	}
	l.pingWatchdog()
}

func (l *loop) notify(state string) {
	if l.sdNotify != nil {
		l.sdNotify(state)
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGHUP:
		return "SIGHUP"
	default:
		return "UNKNOWN"
	}
}
