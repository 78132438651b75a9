package winestage

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/term"
)

// fullScreen runs body above a one-line key hint until app is stopped.
// q, Esc and Ctrl-Q stop it.
func fullScreen(app *tview.Application, body tview.Primitive, hint string) error {
	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]" + hint + "[white]")

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, true).
		AddItem(footer, 1, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyEsc, event.Key() == tcell.KeyCtrlQ:
		case event.Key() == tcell.KeyRune && event.Rune() == 'q':
		default:
			return event
		}
		app.Stop()
		return nil
	})
	return app.SetRoot(layout, true).SetFocus(body).Run()
}

// RunPager shows a log in a scrollable view, starting at its end, when w is
// a terminal too small to hold it. Otherwise the lines are printed as is.
func RunPager(w io.Writer, title string, lines []string) error {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return printLines(w, lines)
	}
	if _, height, err := term.GetSize(int(f.Fd())); err == nil && len(lines) <= height-2 {
		return printLines(w, lines)
	}

	view := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	view.SetBorder(true).SetTitle(" " + title + " ")
	fmt.Fprint(tview.ANSIWriter(view), tview.Escape(strings.Join(lines, "\n")))
	view.ScrollToEnd()

	if err := fullScreen(tview.NewApplication(), view, "Scroll with ↑/↓, PgUp/PgDn, Home/End. q or Esc quits."); err != nil {
		return fmt.Errorf("log viewer failed: %w", err)
	}
	return nil
}

func printLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
