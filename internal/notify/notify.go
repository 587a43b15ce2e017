package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/muesli/reflow/wordwrap"
)

// Config holds delivery configuration.
type Config struct {
	Enabled bool          `toml:"enabled"`
	Desktop DesktopConfig `toml:"desktop"`
	Webhook WebhookConfig `toml:"webhook"`
	Log     LogConfig     `toml:"log"`
}

// DesktopConfig configures desktop notifications.
type DesktopConfig struct {
	Enabled bool   `toml:"enabled"`
	Title   string `toml:"title"` // title prefix
}

// WebhookConfig configures webhook delivery.
type WebhookConfig struct {
	Enabled    bool              `toml:"enabled"`
	URL        string            `toml:"url"`
	Method     string            `toml:"method"` // default POST
	Headers    map[string]string `toml:"headers"`
	MaxRetries int               `toml:"max_retries"`
	TimeoutSec int               `toml:"timeout_sec"`
}

// LogConfig configures the alert log file.
type LogConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// DefaultConfig returns default delivery configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Desktop: DesktopConfig{
			Enabled: true,
			Title:   "watchmux",
		},
		Webhook: WebhookConfig{
			Enabled:    false,
			Method:     "POST",
			MaxRetries: 3,
			TimeoutSec: 10,
		},
		Log: LogConfig{
			Enabled: true,
			Path:    "~/.config/watchmux/alerts.log",
		},
	}
}

// Notifier delivers drained alerts through the configured channels. Watchmux
// guarantees at-most-one alert per (agent, kind) per dedup window at the
// hand-off; it makes no delivery guarantee beyond that.
type Notifier struct {
	config     Config
	httpClient *http.Client
}

// NewNotifier creates a Notifier for the given configuration.
func NewNotifier(cfg Config) *Notifier {
	cfg.Webhook.URL = os.ExpandEnv(cfg.Webhook.URL)
	for k, v := range cfg.Webhook.Headers {
		cfg.Webhook.Headers[k] = os.ExpandEnv(v)
	}

	timeout := time.Duration(cfg.Webhook.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Notifier{
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Deliver sends each alert to every enabled channel. Channel failures are
// collected, not fatal: one broken webhook must not block the log file.
func (n *Notifier) Deliver(ctx context.Context, alerts []Alert) error {
	if !n.config.Enabled || len(alerts) == 0 {
		return nil
	}

	var errs []error
	for _, a := range alerts {
		if n.config.Desktop.Enabled {
			if err := n.sendDesktop(ctx, a); err != nil {
				errs = append(errs, fmt.Errorf("desktop: %w", err))
			}
		}
		if n.config.Webhook.Enabled && n.config.Webhook.URL != "" {
			if err := n.sendWebhook(ctx, a); err != nil {
				errs = append(errs, fmt.Errorf("webhook: %w", err))
			}
		}
		if n.config.Log.Enabled && n.config.Log.Path != "" {
			if err := n.sendLog(a); err != nil {
				errs = append(errs, fmt.Errorf("log: %w", err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("delivery errors: %v", errs)
	}
	return nil
}

// sendDesktop sends a desktop notification via osascript or notify-send.
func (n *Notifier) sendDesktop(ctx context.Context, a Alert) error {
	title := n.config.Desktop.Title
	if title == "" {
		title = "watchmux"
	}
	title = fmt.Sprintf("%s: %s", title, a.Kind)
	body := wordwrap.String(a.Message, 72)

	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, body, title)
		return exec.CommandContext(ctx, "osascript", "-e", script).Run()
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			return fmt.Errorf("notify-send not found")
		}
		urgency := "normal"
		if a.Severity == SeverityCritical {
			urgency = "critical"
		}
		return exec.CommandContext(ctx, "notify-send", "-u", urgency, title, body).Run()
	default:
		return fmt.Errorf("desktop notifications not supported on %s", runtime.GOOS)
	}
}

// sendWebhook posts the alert as JSON, retrying transient failures with
// exponential backoff. Client errors (4xx) are not retried.
func (n *Notifier) sendWebhook(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	method := n.config.Webhook.Method
	if method == "" {
		method = "POST"
	}
	maxRetries := n.config.Webhook.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, n.config.Webhook.URL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "watchmux/1.0")
		for k, v := range n.config.Webhook.Headers {
			req.Header.Set(k, v)
		}

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return lastErr
		}
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", maxRetries+1, lastErr)
}

// sendLog appends one line per alert to the configured log file.
func (n *Notifier) sendLog(a Alert) error {
	path := n.config.Log.Path
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] [%s] %s %s: %s",
		a.LastAt.Format(time.RFC3339), a.Severity, a.Agent, a.Kind, a.Message)
	if a.Count > 1 {
		line = fmt.Sprintf("%s (x%d)", line, a.Count)
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
