package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"standupbot/internal/clock"
	"standupbot/internal/config"
	rtsup "standupbot/internal/runtime/supervisor"
	"standupbot/internal/services/ops"
	"standupbot/internal/standup"
	kit "standupbot/internal/transport"
	"standupbot/internal/transport/telegram"
	"standupbot/internal/transport/telegram/router"
	logx "standupbot/pkg/logx"
	"standupbot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	clock   *clock.Real

	engine    *standup.Engine
	messenger *standup.Messenger
	standup   *standup.Service

	cmdm *router.CommandManager
	menu []kit.BotCommand
	ops  *ops.Service

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	config.LoadDotenv()
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	settings, err := cfg.Standup.Resolve()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))
	root := logSvc.Logger()

	clk := clock.NewReal(settings.Location)
	reg := standup.NewRegistry(clk.Now)
	msgr := standup.NewMessenger(ad, settings.Messenger, root.With(logx.String("comp", "messenger")))
	eng := standup.NewEngine(reg, clk, msgr, root.With(logx.String("comp", "engine")), mapEngineConfig(settings))
	svc := standup.NewService(eng, clk, settings.Defaults, root.With(logx.String("comp", "standup")))

	cmdm := router.NewCommandManager(root.With(logx.String("comp", "commands")), ad, router.Options{
		BotUsername: ad.Username(),
	})
	menu := cmdm.SetRegistry(router.StandupCommands(svc))

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, err
	}
	opsSvc := ops.New(opsCfg, svc, root.With(logx.String("comp", "ops")))

	return &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		adapter:   ad,
		clock:     clk,
		engine:    eng,
		messenger: msgr,
		standup:   svc,
		cmdm:      cmdm,
		menu:      menu,
		ops:       opsSvc,
		updates:   make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go0("telegram.menu.update", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 5*time.Second)
		defer cancel()
		_ = a.adapter.UpdateMenuCommands(mctx, a.menu)
	})
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	cfg := a.cfgm.Get()
	if settings, err := cfg.Standup.Resolve(); err == nil {
		a.standup.Bootstrap(settings.Chats)
	}
	if err := a.ops.Start(a.sup.Context()); err != nil {
		a.log.Warn("ops server not started", logx.Err(err))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := cfg
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts: only the latest config matters
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
		return nil
	})

	st := a.standup.Stats()
	if _, err := systemd.Ready(); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}
	_, _ = systemd.Status(fmt.Sprintf("%d chats scheduled (%s)", st.Chats, a.standup.Zone()))
	a.log.Info("app started", logx.Int("chats", st.Chats), logx.String("zone", a.standup.Zone()))
	return nil
}

// applyConfig pushes a validated config into the running components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if slices.Contains(sections, "standup") {
		settings, err := newCfg.Standup.Resolve()
		if err != nil {
			a.log.Warn("invalid standup config; keeping previous", logx.Err(err))
		} else {
			a.standup.Apply(settings.Defaults)
			a.messenger.Apply(settings.Messenger)
			a.engine.Apply(mapEngineConfig(settings))
			if settings.Location.String() != a.clock.Location().String() {
				a.clock.SetLocation(settings.Location)
				a.engine.Rearm()
				a.log.Info("time zone changed; schedules re-armed", logx.String("zone", settings.Location.String()))
			}
			// seeds only chats new to the config
			a.standup.Bootstrap(settings.Chats)
		}
	}

	if slices.Contains(sections, "ops") {
		oc, err := mapOpsConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
		} else if err := a.ops.Reconfigure(ctx, oc); err != nil {
			a.log.Warn("ops server reconfigure failed", logx.Err(err))
		}
	}

	if slices.Contains(sections, "telegram") {
		a.log.Warn("telegram config changed; restart required for changes to take effect")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// cancel the run context first so background loops start unwinding
	a.sup.Cancel()

	// step bounds each shutdown step so one component cannot stall the rest
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	// engine before adapter so in-flight standups can still be sent
	step("engine", 5*time.Second, a.engine.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped", logx.Uint64("fired", a.engine.Stats().Fired))
	return a.logs.Close()
}
