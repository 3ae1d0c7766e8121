package alert

import (
	"context"
	"io"
	"log"
	"sync"
)

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs []AlertConfig
	logger  *log.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty; a nil Dispatcher drops every event.
func NewDispatcher(configs []AlertConfig, logger *log.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{configs: configs, logger: logger}
}

// Dispatch sends the event to all webhooks whose Events list contains
// event.Type. Delivery runs on goroutines and does not block the caller;
// failures are logged.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if !matches(cfg.Events, event) {
			continue
		}
		d.wg.Add(1)
		go func(cfg AlertConfig) {
			defer d.wg.Done()
			if err := Send(context.Background(), cfg, event); err != nil {
				d.logger.Printf("alert: %s to %s: %v", event.Type, cfg.URL, err)
			}
		}(cfg)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func matches(events []string, event AlertEvent) bool {
	for _, e := range events {
		if e == event.Type {
			return true
		}
	}
	return false
}
