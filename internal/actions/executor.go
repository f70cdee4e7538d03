package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/talonhq/linkpilot/internal/browser"
)

// challengeButtonPhrases are lowercase visible-text fragments of the
// buttons challenge pages use to start or retry a puzzle, including the
// localized variants seen in the wild.
var challengeButtonPhrases = []string{
	"puzzle",
	"start",
	"verify",
	"begin",
	"commencer", // fr
	"starten",   // de
	"iniciar",   // es/pt
}

// genericButtonSelector is the fallback selector clients send when they
// cannot identify the challenge button precisely.
const genericButtonSelector = "button"

// Executor applies actions to a page in the order they are handed to it.
type Executor struct {
	logger *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger}
}

// Execute dispatches one action onto the page. The context bounds the
// whole operation including the page's own waits.
func (e *Executor) Execute(ctx context.Context, page browser.Page, a Action) error {
	switch a.Type {
	case TypeClick:
		return e.click(ctx, page, a)
	case TypeInput:
		if a.Selector == "" {
			return fmt.Errorf("input action requires a selector")
		}
		return page.Input(ctx, a.Selector, a.Value)
	case TypeSubmit:
		if a.Selector == "" {
			return fmt.Errorf("submit action requires a selector")
		}
		return page.Submit(ctx, a.Selector)
	case TypeRefresh:
		return page.Reload(ctx)
	default:
		return &UnknownActionError{Type: a.Type}
	}
}

// click handles both selector clicks and raw coordinate clicks. A failed
// click on the generic "button" selector falls back to scanning visible
// button text for known challenge phrases; if the scan finds nothing the
// original error propagates.
func (e *Executor) click(ctx context.Context, page browser.Page, a Action) error {
	if a.HasCoordinates() {
		return page.ClickAt(ctx, *a.X, *a.Y)
	}
	if a.Selector == "" {
		return fmt.Errorf("click action requires a selector or coordinates")
	}

	err := page.Click(ctx, a.Selector)
	if err == nil {
		return nil
	}
	if a.Selector != genericButtonSelector {
		return err
	}

	e.logger.Debug("actions: generic button click failed, scanning by text", "error", err)
	clicked, scanErr := page.ClickByText(ctx, challengeButtonPhrases)
	if scanErr != nil || !clicked {
		return err
	}
	return nil
}
