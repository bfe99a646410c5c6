package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/rankpulse/am"
	"github.com/teranos/rankpulse/logger"
	"github.com/teranos/rankpulse/sym"
)

// recoverRuns fails runs left "running" by a previous process. Only the
// process that owns the scheduler calls this.
func recoverRuns(e *engine) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := e.orchestrator.Recover(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.PulseWarnw("Interrupted runs marked failed", logger.FieldCount, n)
		pterm.Warning.Printfln("Marked %d interrupted run(s) failed", n)
	}
	return nil
}

// watchConfig reloads config files on change and re-reads the timezone.
// Returns nil when no config file exists to watch.
func watchConfig(e *engine, log *zap.SugaredLogger) *am.ConfigWatcher {
	files := am.LoadedFiles()
	if len(files) == 0 {
		log.Debugw("No config files loaded, config watcher disabled")
		return nil
	}

	watcher, err := am.NewConfigWatcher(files...)
	if err != nil {
		log.Warnw("Config watcher unavailable", logger.FieldError, err)
		return nil
	}
	watcher.OnReload(func(cfg *am.Config) error {
		log.Infow("Config changed, refreshing timezone", logger.FieldTimezone, cfg.Pulse.Timezone)
		e.ticker.RefreshTimezone()
		return nil
	})
	watcher.Start()
	return watcher
}

// waitForSignal blocks until SIGINT or SIGTERM
func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	signal.Stop(sigChan)
	pterm.Println()
	pterm.Info.Println(sym.Prefix(sym.PulseClose, "Shutting down..."))
}

// verbosityName names the -v level for startup banners
func verbosityName(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetCount("verbose")
	return logger.LevelName(v)
}
