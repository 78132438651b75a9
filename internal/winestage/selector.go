package winestage

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/rivo/tview"
	"golang.org/x/term"
)

func newestFirst(available []Version) []Version {
	out := slices.Clone(available)
	slices.SortFunc(out, func(a, b Version) int { return b.Compare(a) })
	return out
}

// LatestSelector picks the newest version without asking.
type LatestSelector struct{}

func (LatestSelector) Select(_ context.Context, available []Version) (Version, error) {
	if len(available) == 0 {
		return Version{}, ErrNoPatchSets
	}
	return newestFirst(available)[0], nil
}

// FailSelector refuses to choose, for runs that must be fully specified.
type FailSelector struct{}

func (FailSelector) Select(context.Context, []Version) (Version, error) {
	return Version{}, fmt.Errorf("%w: no version given and prompting is disabled", ErrSelectionAborted)
}

// PromptSelector lists the versions and reads a number.
type PromptSelector struct {
	Prompter *Prompter
}

func (s *PromptSelector) Select(ctx context.Context, available []Version) (Version, error) {
	if len(available) == 0 {
		return Version{}, ErrNoPatchSets
	}
	list := newestFirst(available)
	c := s.Prompter.Console
	c.Step("Available versions:")
	for i, v := range list {
		c.Note("%2d) %s", i+1, v)
	}
	idx, ok := s.Prompter.AskForOne("Select version", len(list), 0)
	if !ok || ctx.Err() != nil {
		return Version{}, ErrSelectionAborted
	}
	return list[idx], nil
}

// TUISelector shows a full-screen list.
type TUISelector struct {
	Title string
}

func (s *TUISelector) Select(ctx context.Context, available []Version) (Version, error) {
	if len(available) == 0 {
		return Version{}, ErrNoPatchSets
	}
	list := newestFirst(available)

	app := tview.NewApplication()
	picked := -1

	menu := tview.NewList().ShowSecondaryText(false)
	for i, v := range list {
		shortcut := rune(0)
		if i < 9 {
			shortcut = rune('1' + i)
		}
		menu.AddItem(v.String(), "", shortcut, nil)
	}
	menu.SetSelectedFunc(func(i int, _ string, _ string, _ rune) {
		picked = i
		app.Stop()
	})
	title := s.Title
	if title == "" {
		title = "Select version"
	}
	menu.SetBorder(true).SetTitle(" " + title + " ")

	stop := context.AfterFunc(ctx, app.Stop)
	defer stop()

	if err := fullScreen(app, menu, "Choose with ↑/↓ and Enter. q or Esc aborts."); err != nil {
		return Version{}, fmt.Errorf("version menu failed: %w", err)
	}
	if picked < 0 || ctx.Err() != nil {
		return Version{}, ErrSelectionAborted
	}
	return list[picked], nil
}

// NewSelector picks the selection provider for the run mode.
func NewSelector(nonInteractive bool, prompter *Prompter) SelectionProvider {
	if nonInteractive {
		return LatestSelector{}
	}
	if term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd())) {
		return &TUISelector{}
	}
	if prompter != nil {
		return &PromptSelector{Prompter: prompter}
	}
	return FailSelector{}
}
