package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/shlex"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/runger/storykit/internal/reader"
)

var (
	readRestart bool
	readOffline bool
	readLines   bool
)

var readCmd = &cobra.Command{
	Use:   "read <book-id>",
	Short: "Read a book page by page",
	Long: `Read a book. Pages come from the local cache first and are replaced
by live values from the backend as they arrive.

On a terminal the reader is interactive. With --lines, or when output is
not a terminal, it takes one command per line on stdin:
  n, <enter>          next page
  p                   previous page
  <number>, goto <n>  jump to page
  q                   quit

Examples:
  storykit read moon-42
  storykit read moon-42 --restart
  storykit read moon-42 --offline`,
	GroupID: groupCore,
	Args:    cobra.ExactArgs(1),
	RunE:    runRead,
}

func init() {
	readCmd.Flags().BoolVar(&readRestart, "restart", false, "start from the first page instead of resuming")
	readCmd.Flags().BoolVar(&readOffline, "offline", false, "show the cached state without contacting the backend")
	readCmd.Flags().BoolVar(&readLines, "lines", false, "read commands line by line instead of the interactive view")
	rootCmd.AddCommand(readCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ctrl := a.NewReader(nil)
	defer ctrl.Close()
	ctrl.Open(args[0], readRestart)

	out := cmd.OutOrStdout()
	if readOffline {
		ctrl.Settle()
		fmt.Fprintln(out, renderView(ctrl.View(), termWidth()))
		return nil
	}

	var followErr error
	followDone := make(chan struct{})
	go func() {
		defer close(followDone)
		followErr = reader.Follow(ctx, ctrl, a.Backend(), a.Config().PollInterval())
	}()

	if readLines || !isatty.IsTerminal(os.Stdout.Fd()) {
		lines := make(chan string)
		go scanLines(ctx, cmd.InOrStdin(), lines)
		readLoop(ctx, out, ctrl, lines, followDone)
	} else {
		p := tea.NewProgram(newReaderModel(ctx, ctrl, followDone), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			cancel()
			<-followDone
			return err
		}
	}
	cancel()
	<-followDone
	if followErr != nil && !errors.Is(followErr, context.Canceled) {
		return followErr
	}
	return nil
}

func scanLines(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		select {
		case lines <- strings.TrimSpace(sc.Text()):
		case <-ctx.Done():
			return
		}
	}
}

// readLoop renders the view on every change until the user quits, input
// ends, or following stops.
func readLoop(ctx context.Context, out io.Writer, ctrl *reader.Controller, lines <-chan string, followDone <-chan struct{}) {
	width := termWidth()
	last := ""
	render := func() {
		s := renderView(ctrl.View(), width)
		if s != last {
			fmt.Fprintln(out, s)
			last = s
		}
	}
	render()

	for {
		select {
		case <-ctx.Done():
			return
		case <-followDone:
			return
		case <-ctrl.Changes():
			render()
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := navigate(ctrl, line); quit {
				return
			}
			render()
		}
	}
}

// navigate applies one reader command and reports whether to quit.
// Unknown or malformed commands are ignored.
func navigate(ctrl *reader.Controller, line string) bool {
	args, err := shlex.Split(line)
	if err != nil {
		return false
	}
	if len(args) == 0 {
		ctrl.Next()
		return false
	}

	switch args[0] {
	case "q", "quit":
		return true
	case "n", "next":
		ctrl.Next()
	case "p", "prev":
		ctrl.Prev()
	case "g", "goto":
		if len(args) == 2 {
			if n, err := strconv.Atoi(args[1]); err == nil {
				ctrl.SetPage(n - 1)
			}
		}
	default:
		if n, err := strconv.Atoi(args[0]); err == nil && len(args) == 1 {
			ctrl.SetPage(n - 1)
		}
	}
	return false
}

func renderView(v reader.View, width int) string {
	if v.BookID == "" {
		return styleDim.Render("no book open")
	}

	boxWidth := min(width, 72) - 2
	title := v.BookID
	if v.Book != nil && v.Book.Title != "" {
		title = v.Book.Title
	}
	title = runewidth.Truncate(title, boxWidth/2, "…")

	var header strings.Builder
	header.WriteString(styleTitle.Render(title))
	if v.TotalPages > 0 {
		fmt.Fprintf(&header, "  %s", styleDim.Render(fmt.Sprintf("page %d/%d  %.0f%%", v.Page+1, v.TotalPages, v.Progress)))
	}
	if v.BookCached {
		header.WriteString("  " + styleWarn.Render("cached"))
	}

	var body string
	switch {
	case v.Current != nil:
		text := v.Current.Text
		if v.Current.HasImage() {
			img := v.Current.ImageURL
			if img == "" {
				img = "asset " + v.Current.ImageAssetID
			}
			text += "\n\n" + styleCaption.Render("[image] "+img)
		} else {
			text += "\n\n" + styleDim.Render("[illustration pending]")
		}
		if v.CurrentCached {
			text += "  " + styleWarn.Render("(cached)")
		}
		body = text
	case v.Loading:
		body = styleDim.Render("loading...")
	default:
		body = styleDim.Render("page unavailable offline")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header.String(),
		stylePage.Width(boxWidth).Render(body),
	)
}
