package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"execbin/internal/audit"
	"execbin/internal/config"
	"execbin/internal/eventbus"
	"execbin/internal/runtime/supervisor"
	"execbin/internal/scriptrunner"
	"execbin/internal/storage"
	"execbin/internal/task/host"
	logx "execbin/pkg/logx"
)

const shutdownTimeout = 30 * time.Second

func newRunCmd() *cobra.Command {
	var cfgFlag string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured tasks until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, configPath(cfgFlag))
		},
	}
	cmd.Flags().StringVarP(&cfgFlag, "config", "c", "", "path to config file (json or yaml); default $"+configEnv+" or "+defaultConfigPath)
	return cmd
}

func run(ctx context.Context, cfgPath string) error {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(cfg.Logging.Logx())
	defer func() { _ = logSvc.Close() }()
	cfgm.SetLogger(log.With(logx.String("component", "config")))

	stCfg, err := cfg.StorageSettings()
	if err != nil {
		return err
	}
	st, err := storage.Open(stCfg, log.With(logx.String("component", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if st != nil {
		defer func() { _ = st.Close() }()
	}

	loc, err := cfg.Host.Location()
	if err != nil {
		return err
	}

	sup := supervisor.New(context.Background(), supervisor.WithLogger(log.With(logx.String("component", "supervisor"))))
	bus := eventbus.New()
	reg := host.NewRegistry()
	if err := reg.Register(scriptrunner.ClassName, scriptrunner.Factory(
		scriptrunner.WithSpawner(scriptrunner.SpawnerFunc(sup.Spawn)),
	)); err != nil {
		return err
	}
	h := host.New(reg, host.Options{
		Logger:     log.With(logx.String("component", "host")),
		Bus:        bus,
		Location:   loc,
		RatePerSec: cfg.Host.RatePerSec,
	})

	g, gctx := errgroup.WithContext(ctx)
	record := audit.New(st, log.With(logx.String("component", "audit"))).Subscribe(bus)
	g.Go(func() error { return record(gctx) })

	h.Start(gctx)
	if err := h.Apply(gctx, definitions(cfg)); err != nil {
		log.Error("some tasks could not be created", logx.Err(err))
	}

	g.Go(func() error { return cfgm.Watch(gctx) })
	g.Go(func() error {
		reloadLoop(gctx, cfgm, logSvc, h, log)
		return nil
	})

	log.Info("execbin started",
		logx.String("config", cfgPath),
		logx.String("version", version),
		logx.Int("tasks", len(h.Tasks())),
	)
	notifySystemd(log, daemon.SdNotifyReady)

	<-gctx.Done()
	notifySystemd(log, daemon.SdNotifyStopping)
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.Stop(stopCtx); err != nil {
		log.Warn("task host did not stop in time", logx.Err(err))
	}
	if err := sup.Stop(stopCtx); err != nil {
		log.Warn("output drains did not finish", logx.Err(err))
	}
	return g.Wait()
}

// reloadLoop reconciles the host with every accepted config.
func reloadLoop(ctx context.Context, cfgm *config.Manager, logSvc *logx.Service, h *host.Host, log logx.Logger) {
	sub := cfgm.Subscribe(4)
	defer cfgm.Unsubscribe(sub)

	last := cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}

			added, removed, changed := config.TaskChanges(last, next)
			log.Info("config applied",
				logx.String("added", strings.Join(added, ",")),
				logx.String("removed", strings.Join(removed, ",")),
				logx.String("changed", strings.Join(changed, ",")),
			)
			if last != nil && !equalStorage(last.Storage, next.Storage) {
				log.Warn("storage config changed; restart required for changes to take effect")
			}
			if last != nil && last.Host != next.Host {
				log.Warn("host config changed; restart required for changes to take effect")
			}

			logSvc.Apply(next.Logging.Logx())
			if err := h.Apply(ctx, definitions(next)); err != nil {
				log.Error("some tasks could not be created", logx.Err(err))
			}
			last = next
		}
	}
}

func definitions(cfg *config.Config) []host.Definition {
	tasks := cfg.EnabledTasks()
	out := make([]host.Definition, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, host.Definition{Name: t.Name, Class: t.Class, Params: t.Params})
	}
	return out
}

func equalStorage(a, b *config.StorageConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
