package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/missionctl/internal/alert"
	"github.com/ppiankov/missionctl/internal/audit"
	"github.com/ppiankov/missionctl/internal/config"
	"github.com/ppiankov/missionctl/internal/identity"
	"github.com/ppiankov/missionctl/internal/ledger"
	"github.com/ppiankov/missionctl/internal/storage/sqlite"
	"github.com/ppiankov/missionctl/internal/telemetry"
)

// logOutput is where component logs go. Tests replace it.
var logOutput io.Writer = os.Stderr

// runtime holds the stores and ambient services shared by commands.
type runtime struct {
	cfg     *config.Config
	logger  *log.Logger
	id      identity.Context
	ledger  *ledger.Ledger
	trail   *audit.Trail
	alerts  *alert.Dispatcher
	closers []io.Closer
}

func openRuntime() (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	rt := &runtime{
		cfg:    cfg,
		logger: log.New(logOutput, "missionctl: ", log.LstdFlags),
		id:     identity.FromEnvironment(),
	}

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, db)
	rt.ledger = ledger.New(db, ledger.WithClock(rt.id.Clock))

	var auditStore audit.Store = db
	if cfg.AuditBackend == config.AuditJSONL {
		fs, err := audit.OpenFileStore(cfg.AuditLogPath)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, fs)
		auditStore = fs
	}
	rt.trail = audit.NewTrail(auditStore, rt.id)
	rt.alerts = alert.NewDispatcher(cfg.Alerts, rt.logger)
	return rt, nil
}

// setupTracing installs the OTLP exporter when configured. The returned
// func flushes spans and never blocks for more than five seconds.
func (rt *runtime) setupTracing(ctx context.Context) func() {
	shutdown, err := telemetry.Setup(ctx, "missionctl", telemetry.Options{
		Enabled:  rt.cfg.OTel.Enabled,
		Endpoint: rt.cfg.OTel.Endpoint,
	})
	if err != nil {
		rt.logger.Printf("tracing disabled: %v", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			rt.logger.Printf("tracing shutdown: %v", err)
		}
	}
}

// Close waits for pending alerts and releases the stores.
func (rt *runtime) Close() {
	rt.alerts.Wait()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.logger.Printf("close: %v", err)
		}
	}
}
