package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// LocalConfig configures the local Chrome backend.
type LocalConfig struct {
	// ChromePath overrides the executable. Empty lets rod resolve one.
	ChromePath string

	Headless       bool
	ViewportWidth  int
	ViewportHeight int

	Logger *slog.Logger
}

// LocalLauncher starts a Chrome process per Launch call with flags suited
// for containerized, automation-resistant operation.
type LocalLauncher struct {
	cfg LocalConfig
}

// NewLocalLauncher creates a launcher for local Chrome processes.
func NewLocalLauncher(cfg LocalConfig) *LocalLauncher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LocalLauncher{cfg: cfg}
}

// Launch starts Chrome and connects to it. The returned browser owns the
// process; closing it tears the process down.
func (l *LocalLauncher) Launch(ctx context.Context) (Browser, error) {
	lnch := launcher.New().
		Headless(l.cfg.Headless).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", fmt.Sprintf("%d,%d", l.cfg.ViewportWidth, l.cfg.ViewportHeight))

	if l.cfg.ChromePath != "" {
		lnch = lnch.Bin(l.cfg.ChromePath)
	}

	wsURL, err := lnch.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		lnch.Cleanup()
		return nil, fmt.Errorf("%w: connect: %v", ErrLaunch, err)
	}

	l.cfg.Logger.Info("browser: launched local chrome",
		"headless", l.cfg.Headless,
		"viewport", fmt.Sprintf("%dx%d", l.cfg.ViewportWidth, l.cfg.ViewportHeight))

	return &rodBrowser{
		browser: b,
		cleanup: lnch.Cleanup,
		logger:  l.cfg.Logger,
	}, nil
}
