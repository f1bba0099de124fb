package events

import (
	"log/slog"
	"strings"
	"time"
)

// Dispatcher routes events from the bus to script hooks and webhooks.
// It subscribes to the event bus and dispatches matching events to the
// appropriate hook runners. Hook failures never propagate to the ACD
// run loop.
type Dispatcher struct {
	bus      *Bus
	scripts  *ScriptRunner
	webhooks *WebhookSender
	logger   *slog.Logger

	scriptCfgs  []ScriptConfig
	webhookCfgs []WebhookConfig

	ch   chan Event
	done chan struct{}
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(bus *Bus, logger *slog.Logger, scriptConcurrency int, webhookTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		scripts:  NewScriptRunner(scriptConcurrency, logger),
		webhooks: NewWebhookSender(webhookTimeout, logger),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// AddScript registers a script hook.
func (d *Dispatcher) AddScript(cfg ScriptConfig) {
	d.scriptCfgs = append(d.scriptCfgs, cfg)
}

// AddWebhook registers a webhook hook.
func (d *Dispatcher) AddWebhook(cfg WebhookConfig) {
	d.webhookCfgs = append(d.webhookCfgs, cfg)
}

// Start subscribes to the event bus and begins dispatching. Call in a goroutine.
func (d *Dispatcher) Start() {
	d.ch = d.bus.Subscribe("dispatcher", 100)

	d.logger.Info("event dispatcher started",
		"script_hooks", len(d.scriptCfgs),
		"webhook_hooks", len(d.webhookCfgs))

	for {
		select {
		case evt, ok := <-d.ch:
			if !ok {
				return
			}
			d.dispatch(evt)
		case <-d.done:
			return
		}
	}
}

// Stop shuts down the dispatcher and waits for pending hooks.
func (d *Dispatcher) Stop() {
	close(d.done)
	if d.ch != nil {
		d.bus.Unsubscribe(d.ch)
	}
	d.scripts.Wait()
	d.webhooks.Wait()
	d.logger.Info("event dispatcher stopped")
}

// dispatch routes a single event to matching hooks.
func (d *Dispatcher) dispatch(evt Event) {
	evtType := string(evt.Type)

	for _, cfg := range d.scriptCfgs {
		if matchesEvent(cfg.Events, evtType) && matchesInterface(cfg.Interfaces, evt) {
			d.scripts.Run(cfg, evt)
		}
	}

	for _, cfg := range d.webhookCfgs {
		if matchesEvent(cfg.Events, evtType) {
			d.webhooks.Send(cfg, evt)
		}
	}
}

// matchesEvent checks if the event type matches any of the configured
// patterns. Supports exact match and wildcard patterns (e.g. "conflict.*",
// "*").
func matchesEvent(patterns []string, eventType string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p == "*" {
			return true
		}
		if p == eventType {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(eventType, prefix+".") {
				return true
			}
		}
	}
	return false
}

// matchesInterface checks if the event's interface matches the hook's
// interface filter.
func matchesInterface(interfaces []string, evt Event) bool {
	if len(interfaces) == 0 {
		return true
	}
	if evt.Host == nil || evt.Host.Interface == "" {
		return true
	}
	for _, ifname := range interfaces {
		if ifname == evt.Host.Interface {
			return true
		}
	}
	return false
}
