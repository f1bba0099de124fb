// acd-hostd — RFC 5227 Address Conflict Detection host daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	nethttp "net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	bolt "go.etcd.io/bbolt"

	"github.com/athena-net/acd-host/internal/arplink"
	"github.com/athena-net/acd-host/internal/clock"
	"github.com/athena-net/acd-host/internal/config"
	"github.com/athena-net/acd-host/internal/events"
	"github.com/athena-net/acd-host/internal/history"
	"github.com/athena-net/acd-host/internal/logging"
	"github.com/athena-net/acd-host/internal/macvendor"
	"github.com/athena-net/acd-host/internal/metrics"
	"github.com/athena-net/acd-host/internal/syslog"
	"github.com/athena-net/acd-host/pkg/acd"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "/etc/acd-hostd/config.toml", "path to configuration file")
	debugPort := flag.String("debug-port", "", "enable pprof debug server on this port (e.g. 6060)")
	flag.Parse()

	if *debugPort != "" {
		runtime.SetMutexProfileFraction(5)
		runtime.SetBlockProfileRate(1)
		go func() {
			addr := "0.0.0.0:" + *debugPort
			fmt.Fprintf(os.Stderr, "pprof debug server on http://%s/debug/pprof/\n", addr)
			if err := nethttp.ListenAndServe(addr, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server failed: %v\n", err)
			}
		}()
	}

	go func() {
		sigUsr1 := make(chan os.Signal, 1)
		signal.Notify(sigUsr1, syscall.SIGUSR1)
		for range sigUsr1 {
			buf := make([]byte, 64*1024*1024)
			n := runtime.Stack(buf, true)
			path := "/tmp/acd-hostd-goroutines.txt"
			if err := os.WriteFile(path, buf[:n], 0644); err != nil {
				fmt.Fprintf(os.Stderr, "failed to write goroutine dump: %v\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "goroutine dump written to %s (%d bytes)\n", path, n)
			}
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Server.LogLevel, os.Stdout)
	logger.Info("acd-hostd starting",
		"config", *configPath,
		"interfaces", len(cfg.Interfaces))

	if err := writePIDFile(cfg.Server.PIDFile); err != nil {
		logger.Warn("failed to write PID file", "path", cfg.Server.PIDFile, "error", err)
	} else {
		defer removePIDFile(cfg.Server.PIDFile)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := bolt.Open(cfg.Server.HistoryDB, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		logger.Error("failed to open history database", "path", cfg.Server.HistoryDB, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ledger, err := history.Open(db)
	if err != nil {
		logger.Error("failed to open conflict history", "error", err)
		os.Exit(1)
	}
	logger.Info("conflict history opened", "path", cfg.Server.HistoryDB)

	vendorDB := macvendor.NewDB(logger)
	if cfg.Server.VendorDB != "" {
		if err := vendorDB.LoadFile(cfg.Server.VendorDB); err != nil {
			logger.Warn("failed to load mac vendor database, vendor names will be empty", "error", err)
		}
	}

	bus := events.NewBus(cfg.Hooks.EventBufferSize, logger)
	go bus.Start()

	scriptTimeout, _ := time.ParseDuration(cfg.Hooks.ScriptTimeout)
	dispatcher := events.NewDispatcher(bus, logger, cfg.Hooks.ScriptConcurrency, 0)
	for _, s := range cfg.Hooks.Scripts {
		timeout, _ := time.ParseDuration(s.Timeout)
		if timeout == 0 {
			timeout = scriptTimeout
		}
		dispatcher.AddScript(events.ScriptConfig{
			Name:       s.Name,
			Events:     s.Events,
			Command:    s.Command,
			Timeout:    timeout,
			Interfaces: s.Interfaces,
		})
	}
	for _, w := range cfg.Hooks.Webhooks {
		timeout, _ := time.ParseDuration(w.Timeout)
		backoff, _ := time.ParseDuration(w.RetryBackoff)
		dispatcher.AddWebhook(events.WebhookConfig{
			Name:         w.Name,
			Events:       w.Events,
			URL:          w.URL,
			Method:       w.Method,
			Headers:      w.Headers,
			Timeout:      timeout,
			Retries:      w.Retries,
			RetryBackoff: backoff,
			Secret:       w.Secret,
			Template:     w.Template,
		})
	}
	go dispatcher.Start()

	var forwarder *syslog.Forwarder
	if cfg.Syslog.Enabled() {
		forwarder = syslog.NewForwarder(cfg.Syslog, bus, logger)
		if err := forwarder.Start(); err != nil {
			logger.Error("failed to start SIEM forwarder", "error", err)
			os.Exit(1)
		}
	}

	metrics.ServerInfo.WithLabelValues(version).Set(1)
	metrics.ServerStartTime.SetToCurrentTime()

	mux := nethttp.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &nethttp.Server{Addr: cfg.Server.MetricsListen, Handler: mux}
	go func() {
		logger.Info("metrics server listening", "addr", cfg.Server.MetricsListen)
		if err := metricsServer.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	hosts := make(map[string]*acd.Host, len(cfg.Interfaces))
	channels := make(map[string]*arplink.Channel, len(cfg.Interfaces))

	for _, ifc := range cfg.Interfaces {
		ch, err := arplink.Open(ifc.Name)
		if err != nil {
			logger.Error("failed to open ARP channel", "interface", ifc.Name, "error", err)
			os.Exit(1)
		}
		channels[ifc.Name] = ch

		ip := net.ParseIP(ifc.IP).To4()
		probeWait, probeMin, probeMax, announceWait, announceInterval, rateLimitInterval, defendInterval := ifc.Tuning.Resolved()

		h, err := acd.NewHost(acd.Config{
			RequestedIP:  ip,
			HardwareAddr: ch.HardwareAddr(),
			Channel:      ch,
			Scheduler:    clock.New(),
			Rand:         clock.SystemRand{},
			Observer:     newHostObserver(ifc.Name, bus, ledger, vendorDB, logger),
			Tuning: acd.Tuning{
				ProbeWait:         probeWait,
				ProbeNum:          ifc.Tuning.ProbeNum,
				ProbeMin:          probeMin,
				ProbeMax:          probeMax,
				AnnounceWait:      announceWait,
				AnnounceNum:       ifc.Tuning.AnnounceNum,
				AnnounceInterval:  announceInterval,
				MaxConflicts:      ifc.Tuning.MaxConflicts,
				RateLimitInterval: rateLimitInterval,
				DefendInterval:    defendInterval,
			},
		})
		if err != nil {
			logger.Error("failed to create ACD host", "interface", ifc.Name, "error", err)
			os.Exit(1)
		}

		if err := h.Start(); err != nil {
			logger.Error("failed to start ACD host", "interface", ifc.Name, "error", err)
			os.Exit(1)
		}
		hosts[ifc.Name] = h

		logger.Info("ACD host started", "interface", ifc.Name, "ip", ifc.IP)
	}

	logger.Info("acd-hostd ready", "interfaces", len(hosts))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()

	var wg sync.WaitGroup
	for ifname, h := range hosts {
		wg.Add(1)
		go func(ifname string, h *acd.Host) {
			defer wg.Done()
			if err := h.Close(); err != nil {
				logger.Warn("error closing ACD host", "interface", ifname, "error", err)
			}
		}(ifname, h)
	}
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	metricsServer.Shutdown(shutdownCtx)
	shutdownCancel()

	dispatcher.Stop()
	if forwarder != nil {
		forwarder.Stop()
	}
	bus.Stop()

	logger.Info("acd-hostd stopped")
}

// writePIDFile writes the current process ID to the given path.
func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating PID directory %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

// removePIDFile removes the PID file.
func removePIDFile(path string) {
	if path == "" {
		return
	}
	os.Remove(path)
}

// hostObserver adapts pkg/acd's synchronous Observer callbacks to the
// event bus, the Prometheus metrics, and the conflict history ledger,
// for one interface.
type hostObserver struct {
	ifname string
	bus    *events.Bus
	ledger *history.Ledger
	vendor *macvendor.DB
	logger *slog.Logger
}

func newHostObserver(ifname string, bus *events.Bus, ledger *history.Ledger, vendor *macvendor.DB, logger *slog.Logger) *hostObserver {
	return &hostObserver{ifname: ifname, bus: bus, ledger: ledger, vendor: vendor, logger: logger}
}

func (o *hostObserver) publish(evt events.Event) {
	evt.Timestamp = time.Now()
	o.bus.Publish(evt)
}

func (o *hostObserver) OnStateChange(old, new acd.State) {
	o.logger.Info("state change", "interface", o.ifname, "old", old.String(), "new", new.String())

	metrics.HostState.WithLabelValues(o.ifname, old.String()).Set(0)
	metrics.HostState.WithLabelValues(o.ifname, new.String()).Set(1)
	if new != acd.StateDefend {
		metrics.DefendInCooldown.WithLabelValues(o.ifname).Set(0)
	}

	o.publish(events.Event{
		Type: events.EventStateChanged,
		Host: &events.HostData{
			Interface: o.ifname,
			OldState:  old.String(),
			NewState:  new.String(),
		},
	})
}

func (o *hostObserver) OnAddressAvailable(ip net.IP) {
	o.logger.Info("address available", "interface", o.ifname, "ip", ip.String())
	metrics.AddressesClaimed.WithLabelValues(o.ifname).Inc()

	o.publish(events.Event{
		Type: events.EventAddressAvailable,
		Host: &events.HostData{
			Interface: o.ifname,
			IP:        ip,
		},
	})
}

func (o *hostObserver) OnConflict(ip net.IP, state acd.State, f acd.Frame) {
	responderMAC := f.SenderHardwareAddr.String()
	vendor := ""
	if o.vendor != nil {
		vendor = o.vendor.Lookup(responderMAC)
	}

	o.logger.Warn("conflict detected", "interface", o.ifname, "ip", ip.String(),
		"phase", state.String(), "responder_mac", responderMAC, "responder_vendor", vendor)

	metrics.ConflictsDetected.WithLabelValues(o.ifname, state.String()).Inc()

	if o.ledger != nil {
		count := 1
		if prev := o.ledger.Get(o.ifname, ip); prev != nil {
			count = prev.Conflicts + 1
		}
		if err := o.ledger.RecordConflict(o.ifname, ip, state.String(), responderMAC, count); err != nil {
			o.logger.Warn("failed to record conflict history", "interface", o.ifname, "error", err)
		}
	}

	o.publish(events.Event{
		Type: events.EventConflictDetected,
		Conflict: &events.ConflictData{
			IP:           ip,
			Phase:        state.String(),
			ResponderMAC: f.SenderHardwareAddr,
		},
	})
}

func (o *hostObserver) OnLost(ip net.IP) {
	o.logger.Warn("address lost", "interface", o.ifname, "ip", ip.String())
	metrics.AddressesLost.WithLabelValues(o.ifname, "defense_failed").Inc()

	o.publish(events.Event{
		Type:   events.EventAddressLost,
		Host:   &events.HostData{Interface: o.ifname, IP: ip},
		Reason: "defense_failed",
	})
}

func (o *hostObserver) OnQuiesced(ip net.IP, conflicts int) {
	o.logger.Warn("host quiesced", "interface", o.ifname, "ip", ip.String(), "conflicts", conflicts)
	metrics.HostsQuiesced.WithLabelValues(o.ifname).Inc()
	metrics.ConflictsWindow.WithLabelValues(o.ifname).Set(float64(conflicts))

	if o.ledger != nil {
		if err := o.ledger.RecordQuiesced(o.ifname, ip); err != nil {
			o.logger.Warn("failed to record quiesced state", "interface", o.ifname, "error", err)
		}
	}

	o.publish(events.Event{
		Type: events.EventHostQuiesced,
		Conflict: &events.ConflictData{
			IP:        ip,
			Conflicts: conflicts,
		},
	})
}

func (o *hostObserver) OnIOError(err error) {
	_, isFatal := err.(*acd.FatalChannelError)

	o.logger.Error("channel I/O error", "interface", o.ifname, "error", err, "fatal", isFatal)
	metrics.ChannelErrors.WithLabelValues(o.ifname, strconv.FormatBool(isFatal)).Inc()

	o.publish(events.Event{
		Type:   events.EventChannelError,
		Host:   &events.HostData{Interface: o.ifname},
		Reason: err.Error(),
	})
}
