package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/lilybot/lily/internal/agent"
	"github.com/lilybot/lily/internal/app"
	"github.com/lilybot/lily/internal/config"
	"github.com/lilybot/lily/internal/history"
)

var askRender bool

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question from the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askRender, "render", false,
		"render the answer as styled markdown instead of streaming plain text")
	rootCmd.AddCommand(askCmd)
}

// askStyles colors the advisory output around the streamed answer.
type askStyles struct {
	Notice lipgloss.Style
	Error  lipgloss.Style
	Label  lipgloss.Style
}

func defaultAskStyles() askStyles {
	return askStyles{
		Notice: lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("240")),
		Error:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Label:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
	}
}

// terminalSink streams a turn onto the terminal. With streaming disabled it
// stays quiet until the final answer, which the caller renders.
type terminalSink struct {
	out    io.Writer
	styles askStyles
	stream bool
}

func (s *terminalSink) Emit(_ context.Context, ev agent.Event) error {
	switch ev.Kind {
	case agent.EventToken:
		if s.stream {
			fmt.Fprint(s.out, ev.Text)
		}
	case agent.EventRetract:
		if s.stream {
			fmt.Fprintln(s.out, "\n"+s.styles.Notice.Render("(reconsidering that answer)"))
		}
	case agent.EventNotice:
		fmt.Fprintln(s.out, "\n"+s.styles.Notice.Render(ev.Text))
	case agent.EventError:
		fmt.Fprintln(s.out, "\n"+s.styles.Error.Render(ev.Text))
	}
	return nil
}

func (s *terminalSink) Finalize(context.Context) error {
	if s.stream {
		fmt.Fprintln(s.out)
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := cmd.Context()
	logger := newLogger(cfg)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question is empty")
	}

	styles := defaultAskStyles()
	sink := &terminalSink{out: os.Stdout, styles: styles, stream: !askRender}

	msg, err := a.Controller.Run(ctx, history.NewStore(), question, sink)
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}

	if askRender {
		fmt.Println(styles.Label.Render("lily:"))
		fmt.Println(renderMarkdown(msg.Content))
	}
	return nil
}

// renderMarkdown converts markdown to styled terminal output, falling back
// to the raw text when the renderer cannot be built.
func renderMarkdown(markdown string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return markdown
	}
	rendered, err := r.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimSuffix(rendered, "\n")
}
