// Package syslog provides SIEM event forwarding for acd-hostd. It
// subscribes to the event bus and forwards events in multiple formats
// (RFC 5424 syslog, CEF, JSON) to multiple outputs (remote syslog,
// HTTP/HEC, file).
package syslog

import (
	"bytes"
	"compress/gzip"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/athena-net/acd-host/internal/config"
	"github.com/athena-net/acd-host/internal/events"
)

// Facility values (RFC 5424)
const (
	FacilityDaemon = 3
	FacilityLocal0 = 16
	FacilityLocal7 = 23
)

// Severity values (RFC 5424)
const (
	SeverityEmergency = iota
	SeverityAlert
	SeverityCritical
	SeverityError
	SeverityWarning
	SeverityNotice
	SeverityInfo
	SeverityDebug
)

// Format constants
const (
	FormatRFC5424 = "rfc5424"
	FormatCEF     = "cef"
	FormatJSON    = "json"
)

// Forwarder subscribes to the event bus and forwards events to configured outputs.
type Forwarder struct {
	cfg    config.SyslogConfig
	bus    *events.Bus
	logger *slog.Logger
	ch     chan events.Event
	done   chan struct{}

	// Syslog output
	syslogMu   sync.Mutex
	syslogConn net.Conn

	// HTTP output
	httpClient *http.Client

	// File output
	fileMu     sync.Mutex
	fileHandle *os.File
	fileSize   int64
	hostname   string
}

// NewForwarder creates a new SIEM event forwarder.
func NewForwarder(cfg config.SyslogConfig, bus *events.Bus, logger *slog.Logger) *Forwarder {
	if cfg.Tag == "" {
		cfg.Tag = "acd-hostd"
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Facility == 0 {
		cfg.Facility = FacilityLocal0
	}
	if cfg.Format == "" {
		cfg.Format = FormatRFC5424
	}
	if cfg.CEFDeviceVendor == "" {
		cfg.CEFDeviceVendor = "acd-net"
	}
	if cfg.CEFDeviceProduct == "" {
		cfg.CEFDeviceProduct = "ACD Host"
	}
	if cfg.CEFDeviceVersion == "" {
		cfg.CEFDeviceVersion = "1.0"
	}
	if cfg.FileMaxSizeMB == 0 {
		cfg.FileMaxSizeMB = 100
	}
	if cfg.FileMaxBackups == 0 {
		cfg.FileMaxBackups = 5
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "-"
	}

	return &Forwarder{
		cfg:      cfg,
		bus:      bus,
		logger:   logger,
		done:     make(chan struct{}),
		hostname: hostname,
	}
}

// Start subscribes to the event bus and begins forwarding to all enabled outputs.
func (f *Forwarder) Start() error {
	started := 0

	if f.cfg.Address != "" {
		conn, err := net.DialTimeout(f.cfg.Protocol, f.cfg.Address, 5*time.Second)
		if err != nil {
			return fmt.Errorf("connecting to syslog %s://%s: %w", f.cfg.Protocol, f.cfg.Address, err)
		}
		f.syslogMu.Lock()
		f.syslogConn = conn
		f.syslogMu.Unlock()
		f.logger.Info("syslog output started", "address", f.cfg.Address, "protocol", f.cfg.Protocol)
		started++
	}

	if f.cfg.HTTPEnabled && f.cfg.HTTPEndpoint != "" {
		timeout := 5 * time.Second
		if f.cfg.HTTPTimeout != "" {
			if d, err := time.ParseDuration(f.cfg.HTTPTimeout); err == nil {
				timeout = d
			}
		}
		transport := &http.Transport{}
		if f.cfg.HTTPInsecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		f.httpClient = &http.Client{Timeout: timeout, Transport: transport}
		f.logger.Info("HTTP output started", "endpoint", f.cfg.HTTPEndpoint)
		started++
	}

	if f.cfg.FileEnabled && f.cfg.FilePath != "" {
		dir := filepath.Dir(f.cfg.FilePath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("creating log directory %s: %w", dir, err)
		}
		fh, err := os.OpenFile(f.cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			return fmt.Errorf("opening log file %s: %w", f.cfg.FilePath, err)
		}
		info, _ := fh.Stat()
		f.fileMu.Lock()
		f.fileHandle = fh
		if info != nil {
			f.fileSize = info.Size()
		}
		f.fileMu.Unlock()
		f.logger.Info("file output started", "path", f.cfg.FilePath)
		started++
	}

	if started == 0 {
		return fmt.Errorf("no outputs configured (enable syslog address, HTTP endpoint, or file path)")
	}

	f.ch = f.bus.Subscribe("syslog", 500)
	go f.loop()

	f.logger.Info("SIEM forwarder started", "format", f.cfg.Format, "outputs", started)
	return nil
}

// Stop shuts down the forwarder and all outputs.
func (f *Forwarder) Stop() {
	close(f.done)
	if f.ch != nil {
		f.bus.Unsubscribe(f.ch)
	}

	f.syslogMu.Lock()
	if f.syslogConn != nil {
		f.syslogConn.Close()
	}
	f.syslogMu.Unlock()

	f.fileMu.Lock()
	if f.fileHandle != nil {
		f.fileHandle.Close()
	}
	f.fileMu.Unlock()

	f.logger.Info("SIEM forwarder stopped")
}

func (f *Forwarder) loop() {
	for {
		select {
		case evt, ok := <-f.ch:
			if !ok {
				return
			}
			f.forward(evt)
		case <-f.done:
			return
		}
	}
}

func (f *Forwarder) forward(evt events.Event) {
	formatted := f.formatEvent(evt)

	if f.syslogConn != nil {
		f.sendSyslog(evt, formatted)
	}
	if f.httpClient != nil {
		f.sendHTTP(evt, formatted)
	}
	if f.fileHandle != nil {
		f.writeFile(formatted)
	}
}

// formatEvent returns the formatted event string based on the configured format.
func (f *Forwarder) formatEvent(evt events.Event) string {
	switch f.cfg.Format {
	case FormatCEF:
		return f.formatCEF(evt)
	case FormatJSON:
		return f.formatJSON(evt)
	default:
		return formatKV(evt)
	}
}

// --- Syslog output ---

func (f *Forwarder) sendSyslog(evt events.Event, msg string) {
	severity := eventSeverity(evt.Type)
	priority := f.cfg.Facility*8 + severity

	ts := evt.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
	line := fmt.Sprintf("<%d>1 %s %s %s - - - %s\n", priority, ts, f.hostname, f.cfg.Tag, msg)

	f.syslogMu.Lock()
	defer f.syslogMu.Unlock()

	if f.syslogConn == nil {
		return
	}

	if _, err := f.syslogConn.Write([]byte(line)); err != nil {
		f.logger.Debug("syslog write failed, reconnecting", "error", err)
		f.syslogConn.Close()
		conn, err := net.DialTimeout(f.cfg.Protocol, f.cfg.Address, 3*time.Second)
		if err != nil {
			f.logger.Warn("syslog reconnect failed", "error", err)
			f.syslogConn = nil
			return
		}
		f.syslogConn = conn
		f.syslogConn.Write([]byte(line))
	}
}

// --- HTTP output (Splunk HEC, Elasticsearch, generic) ---

func (f *Forwarder) sendHTTP(evt events.Event, formatted string) {
	var body []byte

	if strings.Contains(f.cfg.HTTPEndpoint, "/services/collector") {
		wrapper := map[string]interface{}{
			"time":       evt.Timestamp.Unix(),
			"sourcetype": "acd:host",
			"source":     f.cfg.Tag,
			"host":       f.hostname,
		}
		if f.cfg.Format == FormatJSON {
			var evtData interface{}
			json.Unmarshal([]byte(formatted), &evtData)
			wrapper["event"] = evtData
		} else {
			wrapper["event"] = formatted
		}
		body, _ = json.Marshal(wrapper)
	} else {
		if f.cfg.Format == FormatJSON {
			body = []byte(formatted)
		} else {
			body, _ = json.Marshal(map[string]string{"message": formatted, "timestamp": evt.Timestamp.UTC().Format(time.RFC3339Nano)})
		}
	}

	req, err := http.NewRequest("POST", f.cfg.HTTPEndpoint, bytes.NewReader(body))
	if err != nil {
		f.logger.Debug("failed to create HTTP request", "error", err)
		return
	}

	req.Header.Set("Content-Type", "application/json")

	if f.cfg.HTTPToken != "" {
		if strings.Contains(f.cfg.HTTPEndpoint, "/services/collector") {
			req.Header.Set("Authorization", "Splunk "+f.cfg.HTTPToken)
		} else {
			req.Header.Set("Authorization", "Bearer "+f.cfg.HTTPToken)
		}
	}

	for k, v := range f.cfg.HTTPHeaders {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Debug("HTTP output send failed", "error", err)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		f.logger.Debug("HTTP output returned error", "status", resp.StatusCode)
	}
}

// --- File output with rotation ---

func (f *Forwarder) writeFile(msg string) {
	line := msg + "\n"

	f.fileMu.Lock()
	defer f.fileMu.Unlock()

	if f.fileHandle == nil {
		return
	}

	n, err := f.fileHandle.WriteString(line)
	if err != nil {
		f.logger.Debug("file write failed", "error", err)
		return
	}
	f.fileSize += int64(n)

	maxBytes := int64(f.cfg.FileMaxSizeMB) * 1024 * 1024
	if maxBytes > 0 && f.fileSize >= maxBytes {
		f.rotateFile()
	}
}

func (f *Forwarder) rotateFile() {
	f.fileHandle.Close()

	for i := f.cfg.FileMaxBackups; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d.gz", f.cfg.FilePath, i-1)
		dst := fmt.Sprintf("%s.%d.gz", f.cfg.FilePath, i)
		if i == 1 {
			src = f.cfg.FilePath
			f.compressFile(src, dst)
			continue
		}
		os.Rename(src, dst)
	}

	excess := fmt.Sprintf("%s.%d.gz", f.cfg.FilePath, f.cfg.FileMaxBackups+1)
	os.Remove(excess)

	fh, err := os.OpenFile(f.cfg.FilePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		f.logger.Warn("failed to reopen log file after rotation", "error", err)
		f.fileHandle = nil
		return
	}
	f.fileHandle = fh
	f.fileSize = 0
}

func (f *Forwarder) compressFile(src, dst string) {
	in, err := os.Open(src)
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	io.Copy(gz, in)
	gz.Close()
}

// --- Formatters ---

// FormatMessage formats an event into a key=value string (exported for testing).
func FormatMessage(evt events.Event) string {
	return formatKV(evt)
}

// FormatCEFMessage formats an event into CEF format (exported for testing).
func FormatCEFMessage(evt events.Event) string {
	f := &Forwarder{cfg: config.SyslogConfig{
		CEFDeviceVendor:  "acd-net",
		CEFDeviceProduct: "ACD Host",
		CEFDeviceVersion: "1.0",
	}}
	return f.formatCEF(evt)
}

func formatKV(evt events.Event) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("event=%s", evt.Type))

	if evt.Host != nil {
		h := evt.Host
		parts = append(parts, fmt.Sprintf("interface=%s", h.Interface))
		if h.IP != nil {
			parts = append(parts, fmt.Sprintf("ip=%s", h.IP))
		}
		if h.MAC != nil {
			parts = append(parts, fmt.Sprintf("mac=%s", h.MAC))
		}
		if h.OldState != "" || h.NewState != "" {
			parts = append(parts, fmt.Sprintf("old_state=%s new_state=%s", h.OldState, h.NewState))
		}
	}

	if evt.Conflict != nil {
		c := evt.Conflict
		if c.IP != nil {
			parts = append(parts, fmt.Sprintf("conflict_ip=%s", c.IP))
		}
		if c.Phase != "" {
			parts = append(parts, fmt.Sprintf("phase=%s", c.Phase))
		}
		if c.ResponderMAC != nil {
			parts = append(parts, fmt.Sprintf("responder_mac=%s", c.ResponderMAC))
		}
		if c.Conflicts != 0 {
			parts = append(parts, fmt.Sprintf("conflicts=%d", c.Conflicts))
		}
	}

	if evt.Reason != "" {
		parts = append(parts, fmt.Sprintf("reason=%s", evt.Reason))
	}

	return strings.Join(parts, " ")
}

// formatCEF produces ArcSight Common Event Format messages.
// CEF:Version|Device Vendor|Device Product|Device Version|Signature ID|Name|Severity|Extension
func (f *Forwarder) formatCEF(evt events.Event) string {
	sigID := cefSignatureID(evt.Type)
	name := cefEventName(evt.Type)
	severity := cefSeverity(evt.Type)

	var ext []string
	ext = append(ext, fmt.Sprintf("rt=%d", evt.Timestamp.UnixMilli()))

	if evt.Host != nil {
		h := evt.Host
		if h.IP != nil {
			ext = append(ext, fmt.Sprintf("dst=%s", h.IP))
		}
		if h.MAC != nil {
			ext = append(ext, fmt.Sprintf("dmac=%s", h.MAC))
		}
		ext = append(ext, fmt.Sprintf("cs1=%s cs1Label=Interface", cefEscape(h.Interface)))
		if h.OldState != "" || h.NewState != "" {
			ext = append(ext, fmt.Sprintf("cs2=%s cs2Label=OldState", cefEscape(h.OldState)))
			ext = append(ext, fmt.Sprintf("cs3=%s cs3Label=NewState", cefEscape(h.NewState)))
		}
	}

	if evt.Conflict != nil {
		c := evt.Conflict
		if c.IP != nil {
			ext = append(ext, fmt.Sprintf("dst=%s", c.IP))
		}
		if c.Phase != "" {
			ext = append(ext, fmt.Sprintf("cs1=%s cs1Label=Phase", cefEscape(c.Phase)))
		}
		if c.ResponderMAC != nil {
			ext = append(ext, fmt.Sprintf("smac=%s", c.ResponderMAC))
		}
		if c.Conflicts != 0 {
			ext = append(ext, fmt.Sprintf("cn1=%d cn1Label=ConflictCount", c.Conflicts))
		}
	}

	if evt.Reason != "" {
		ext = append(ext, fmt.Sprintf("msg=%s", cefEscape(evt.Reason)))
	}

	return fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
		cefEscape(f.cfg.CEFDeviceVendor),
		cefEscape(f.cfg.CEFDeviceProduct),
		cefEscape(f.cfg.CEFDeviceVersion),
		sigID,
		cefEscape(name),
		severity,
		strings.Join(ext, " "),
	)
}

func (f *Forwarder) formatJSON(evt events.Event) string {
	data, _ := json.Marshal(evt)
	return string(data)
}

// --- CEF helpers ---

func cefEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `|`, `\|`)
	s = strings.ReplaceAll(s, `=`, `\=`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func cefSignatureID(t events.EventType) string {
	switch t {
	case events.EventStateChanged:
		return "100"
	case events.EventAddressAvailable:
		return "101"
	case events.EventConflictDetected:
		return "200"
	case events.EventAddressLost:
		return "201"
	case events.EventHostQuiesced:
		return "202"
	case events.EventChannelError:
		return "300"
	default:
		return "999"
	}
}

func cefEventName(t events.EventType) string {
	switch t {
	case events.EventStateChanged:
		return "ACD State Change"
	case events.EventAddressAvailable:
		return "Address Available"
	case events.EventConflictDetected:
		return "IP Conflict Detected"
	case events.EventAddressLost:
		return "Address Lost"
	case events.EventHostQuiesced:
		return "Host Quiesced"
	case events.EventChannelError:
		return "ARP Channel Error"
	default:
		return string(t)
	}
}

// cefSeverity maps event types to CEF severity (0-10 scale).
func cefSeverity(t events.EventType) int {
	switch t {
	case events.EventHostQuiesced:
		return 7
	case events.EventConflictDetected:
		return 5
	case events.EventAddressLost:
		return 5
	case events.EventChannelError:
		return 4
	case events.EventAddressAvailable:
		return 2
	default:
		return 1
	}
}

func eventSeverity(t events.EventType) int {
	switch t {
	case events.EventHostQuiesced:
		return SeverityWarning
	case events.EventConflictDetected, events.EventAddressLost:
		return SeverityWarning
	case events.EventChannelError:
		return SeverityError
	default:
		return SeverityInfo
	}
}
