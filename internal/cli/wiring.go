package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/Dicklesworthstone/watchmux/internal/agent"
	"github.com/Dicklesworthstone/watchmux/internal/cache"
	"github.com/Dicklesworthstone/watchmux/internal/config"
	"github.com/Dicklesworthstone/watchmux/internal/detect"
	"github.com/Dicklesworthstone/watchmux/internal/health"
	"github.com/Dicklesworthstone/watchmux/internal/monitor"
	"github.com/Dicklesworthstone/watchmux/internal/notify"
	"github.com/Dicklesworthstone/watchmux/internal/recovery"
	"github.com/Dicklesworthstone/watchmux/internal/state"
	"github.com/Dicklesworthstone/watchmux/internal/tmux"
)

// app is the assembled object graph behind every monitoring command.
type app struct {
	cfg      config.Config
	pool     *tmux.Pool
	cache    *cache.Cache
	svc      *monitor.Service
	alerts   *notify.Manager
	notifier *notify.Notifier
	watcher  *config.PatternWatcher
}

// buildApp wires the full monitoring stack from configuration.
func buildApp(cfg config.Config) (*app, error) {
	client := tmux.NewClient(cfg.Tmux.Remote, cfg.Tmux.SocketName)
	if cfg.Tmux.Remote == "" && !client.IsInstalled() {
		return nil, fmt.Errorf("tmux not found in PATH")
	}

	pool, err := tmux.NewPool(client, tmux.PoolConfig{
		MinSize:        cfg.Pool.MinSize,
		MaxSize:        cfg.Pool.MaxSize,
		AcquireTimeout: cfg.Pool.AcquireTimeout(),
		IdleTimeout:    cfg.Pool.IdleTimeout(),
	})
	if err != nil {
		return nil, err
	}
	pooled := tmux.NewPooledClient(pool)

	c, err := cache.New(cache.Options{
		SessionsTTL:   cfg.Cache.SessionsTTL(),
		PanesTTL:      cfg.Cache.PanesTTL(),
		StatusTTL:     cfg.Cache.StatusTTL(),
		PanesCapacity: cfg.Cache.PanesCapacity,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	classifier := agent.NewClassifier(cfg.Roles.SupervisorTokens, cfg.Roles.WorkerTokens)
	discoverer, err := agent.NewDiscoverer(pooled, c, classifier, cfg.Monitor.SessionFilter)
	if err != nil {
		pool.Close()
		return nil, err
	}

	patterns := cfg.Detect.Patterns
	if cfg.Detect.PatternsFile != "" {
		merged, err := config.LoadPatternsFile(cfg.Detect.PatternsFile, patterns)
		if err != nil {
			log.Printf("patterns file: %v (using configured patterns)", err)
		} else {
			patterns = merged
		}
	}
	detector, err := detect.New(patterns, cfg.Detect.TailLines)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("detection patterns: %w", err)
	}

	tracker := state.NewTracker(cfg.Health.DepartedGraceCycles)

	captureLines := cfg.Health.CaptureLines
	content := func(ctx context.Context, target agent.Target) (string, error) {
		return cache.GetOrCompute(ctx, c, cache.TierPanes, target.ID(),
			func(ctx context.Context) (string, error) {
				return pooled.CapturePane(ctx, target.TmuxTarget(), captureLines)
			})
	}
	checker := health.NewChecker(content, detector, tracker, cfg.Health.FailureThreshold)

	alerts := notify.NewManager(cfg.Alerts.DedupWindow())
	notifier := notify.NewNotifier(cfg.Notifications)

	remediator := recovery.RemediatorFunc(func(ctx context.Context, target agent.Target) error {
		var err error
		switch cfg.Recovery.Mode {
		case "send-keys":
			err = pooled.SendKeys(ctx, target.TmuxTarget(), cfg.Recovery.RestartKeys...)
		default:
			err = pooled.RespawnWindow(ctx, target.TmuxTarget())
		}
		if err != nil {
			return err
		}
		// The restart changed the pane: stale captures and the cached
		// target list (pane liveness) must not feed the next verdict.
		c.Invalidate(cache.TierPanes, target.ID())
		discoverer.InvalidateList()
		return nil
	})
	recMgr := recovery.NewManager(remediator, tracker, alerts, cfg.Recovery.MaxAttempts,
		recovery.PolicyBackoff(cfg.Recovery.BackoffPolicy, cfg.Recovery.BackoffBase(), cfg.Recovery.BackoffMax()))

	strategy, err := monitor.NewStrategy(cfg.Monitor.Strategy, monitor.StrategyOptions{
		ConcurrencyLimit: cfg.Monitor.ConcurrencyLimit,
		CheckTimeout:     cfg.Monitor.CheckTimeout(),
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		pool:     pool,
		cache:    c,
		alerts:   alerts,
		notifier: notifier,
		svc: monitor.NewService(monitor.ServiceConfig{
			Discoverer:   discoverer,
			Tracker:      tracker,
			Checker:      checker,
			Recovery:     recMgr,
			Alerts:       alerts,
			Detector:     detector,
			Strategy:     strategy,
			SoftDeadline: cfg.Monitor.CycleSoftDeadline(),
		}),
	}

	if cfg.Detect.PatternsFile != "" {
		watcher, err := config.NewPatternWatcher(cfg.Detect.PatternsFile, cfg.Detect.Patterns, func(pc config.PatternConfig) {
			if err := detector.SetPatterns(pc); err != nil {
				log.Printf("pattern reload rejected: %v", err)
				return
			}
			log.Printf("detection patterns reloaded from %s", cfg.Detect.PatternsFile)
		})
		if err != nil {
			log.Printf("pattern hot-reload disabled: %v", err)
		} else {
			a.watcher = watcher
		}
	}

	return a, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.watcher != nil {
		a.watcher.Close()
	}
	a.pool.Close()
}
