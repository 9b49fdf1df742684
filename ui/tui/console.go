// Package tui is the terminal conversation console for the magpie CLI.
package tui

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gen2brain/beeep"
	"github.com/rivo/tview"
	"github.com/rs/zerolog"

	"github.com/magpievoice/magpie/api"
	"github.com/magpievoice/magpie/client"
	"github.com/magpievoice/magpie/ui/themes"
)

// urlRegex matches URLs in text for hyperlink formatting
var urlRegex = regexp.MustCompile(`https?://[^\s\[\]<>]+`)

// formatURLsAsHyperlinks converts URLs in text to OSC 8 terminal hyperlinks
// This makes URLs clickable in supported terminals (iTerm2, GNOME Terminal, Windows Terminal, etc.)
// Display format: [Link to domain.tld]
func formatURLsAsHyperlinks(text string) string {
	return urlRegex.ReplaceAllStringFunc(text, func(rawURL string) string {
		// Extract domain from URL
		parsedURL, err := url.Parse(rawURL)
		if err != nil {
			// Fallback to showing full URL if parsing fails
			return fmt.Sprintf("\033]8;;%s\007%s\033]8;;\007", rawURL, rawURL)
		}

		domain := parsedURL.Host
		displayText := fmt.Sprintf("[Link to %s]", domain)

		// OSC 8 hyperlink format: ESC ] 8 ; ; URL BEL text ESC ] 8 ; ; BEL
		// Using \033 for ESC and \007 for BEL
		return fmt.Sprintf("\033]8;;%s\007%s\033]8;;\007", rawURL, displayText)
	})
}

// Config selects who is speaking and how the console behaves.
type Config struct {
	UserID  string
	AgentID string
	Theme   string
	Notify  bool
}

// Console is the conversation screen: a transcript view, a message input,
// and a status line. Daemon events arrive on a background goroutine and
// are rendered through QueueUpdateDraw.
type Console struct {
	app        *tview.Application
	pages      *tview.Pages
	transcript *tview.TextView
	input      *tview.TextArea
	status     *tview.TextView

	daemon     *client.Client
	conv       *client.Conversation
	cfg        Config
	configPath string

	// replyOpen is true while a streamed reply line is still being
	// appended to. Only touched on the UI goroutine.
	replyOpen bool

	closeOnce sync.Once

	logger zerolog.Logger
}

// NewConsole creates the console. The theme comes from the MAGPIE_THEME
// environment variable, then the config, then "solarized".
func NewConsole(daemon *client.Client, configPath string, cfg Config, logger zerolog.Logger) *Console {
	logger = logger.With().Str("component", "console").Logger()

	themeName := os.Getenv("MAGPIE_THEME")
	if themeName == "" {
		themeName = cfg.Theme
	}
	if themeName == "" {
		themeName = "solarized"
	}
	cfg.Theme = themeName

	tviewApp := tview.NewApplication()
	if err := themes.ApplyByName(tviewApp, themeName); err != nil {
		logger.Error().Err(err).Msg("Failed to apply theme. Continuing with no theme.")
	}

	return &Console{
		app:        tviewApp,
		pages:      tview.NewPages(),
		daemon:     daemon,
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}
}

// Run connects to the daemon and drives the console until the user quits.
func (c *Console) Run(ctx context.Context) error {
	conv, err := c.daemon.Converse(ctx, c.cfg.UserID, c.cfg.AgentID)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	c.conv = conv

	c.setupUI()
	go c.eventLoop()

	return c.app.SetRoot(c.pages, true).SetFocus(c.input).Run()
}

func (c *Console) agentLabel() string {
	if c.cfg.AgentID != "" {
		return c.cfg.AgentID
	}
	return "assistant"
}

// setupUI initializes the UI components and layout
func (c *Console) setupUI() {
	c.transcript = tview.NewTextView()
	c.transcript.SetDynamicColors(true).
		SetWordWrap(true).
		SetBorder(true).
		SetTitle(fmt.Sprintf("Conversation with %s", c.agentLabel()))
	c.transcript.SetScrollable(true)
	_, _ = fmt.Fprintf(c.transcript, "[gray]Connected. Say something, or type /help for commands.[white]\n\n")

	c.input = tview.NewTextArea()
	c.input.SetLabel("You: ").
		SetBorder(true).
		SetTitle("Message (Alt+Enter: send, Enter: new line, Tab: scroll transcript, exit: finish session)")

	c.status = tview.NewTextView()
	c.status.SetTextAlign(tview.AlignCenter)
	c.setStatus("Connected | /prompt /tasks /sessions /settings /help | exit: finish session | Ctrl+C: quit")

	// Arrow key scrolling on the transcript, Tab/Esc back to the input.
	c.transcript.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch ev.Key() {
		case tcell.KeyUp:
			row, col := c.transcript.GetScrollOffset()
			if row > 0 {
				c.transcript.ScrollTo(row-1, col)
			}
			return nil
		case tcell.KeyDown:
			row, col := c.transcript.GetScrollOffset()
			c.transcript.ScrollTo(row+1, col)
			return nil
		case tcell.KeyPgUp:
			row, col := c.transcript.GetScrollOffset()
			_, _, _, height := c.transcript.GetInnerRect()
			newRow := row - height
			if newRow < 0 {
				newRow = 0
			}
			c.transcript.ScrollTo(newRow, col)
			return nil
		case tcell.KeyPgDn:
			row, col := c.transcript.GetScrollOffset()
			_, _, _, height := c.transcript.GetInnerRect()
			c.transcript.ScrollTo(row+height, col)
			return nil
		case tcell.KeyHome:
			_, col := c.transcript.GetScrollOffset()
			c.transcript.ScrollTo(0, col)
			return nil
		case tcell.KeyEnd:
			c.transcript.ScrollToEnd()
			return nil
		case tcell.KeyTab, tcell.KeyEsc:
			c.app.SetFocus(c.input)
			return nil
		}
		return ev
	})

	c.input.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch ev.Key() {
		case tcell.KeyEnter:
			// Alt+Enter sends; plain Enter keeps the default new-line
			// behavior for multi-line messages.
			if ev.Modifiers()&tcell.ModAlt != 0 {
				c.handleSend()
				return nil
			}
			return ev
		case tcell.KeyTab:
			c.app.SetFocus(c.transcript)
			return nil
		}
		return ev
	})

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(c.transcript, 0, 1, false).
		AddItem(c.input, 7, 0, true).
		AddItem(c.status, 1, 0, false)

	c.pages.AddPage("console", layout, true, true)

	c.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyCtrlC {
			c.app.Stop()
			return nil
		}
		return ev
	})
}

func (c *Console) setStatus(text string) {
	c.status.SetText(text)
}

// handleSend runs on the UI goroutine: render the user's message
// immediately, then hand the network write to a goroutine.
func (c *Console) handleSend() {
	message := strings.TrimSpace(c.input.GetText())
	if message == "" {
		return
	}

	lines := strings.Split(message, "\n")
	if len(lines) == 1 {
		first := strings.TrimSpace(lines[0])
		if strings.EqualFold(first, "exit") {
			c.input.SetText("", true)
			c.finishSession()
			return
		}
		if strings.HasPrefix(first, "/") {
			c.input.SetText("", true)
			c.handleCommand(strings.ToLower(first))
			return
		}
	}

	c.input.SetText("", true)
	_, _ = fmt.Fprintf(c.transcript, "[cyan]You[white]: %s\n\n", formatURLsAsHyperlinks(message))
	_, _ = fmt.Fprintf(c.transcript, "[yellow]%s is thinking...[white]\n", c.agentLabel())
	c.transcript.ScrollToEnd()

	go func() {
		if err := c.conv.Send(message); err != nil {
			c.app.QueueUpdateDraw(func() {
				c.clearThinking()
				_, _ = fmt.Fprintf(c.transcript, "[red]Error[white]: %v\n\n", err)
				c.transcript.ScrollToEnd()
			})
		}
	}()
}

func (c *Console) handleCommand(command string) {
	switch command {
	case "/prompt":
		go c.showPrompt()
	case "/tasks":
		go c.showTasks()
	case "/sessions":
		go c.showSessions()
	case "/settings":
		c.showSettings()
	case "/help":
		_, _ = fmt.Fprintf(c.transcript, "[gray]Commands: /prompt shows the current system prompt, /tasks lists memorization tasks, /sessions lists sessions, /settings edits the console config. Type exit to finish the session and get a recap.[white]\n\n")
		c.transcript.ScrollToEnd()
	default:
		_, _ = fmt.Fprintf(c.transcript, "[red]Unknown command: %s[white]\n", command)
		_, _ = fmt.Fprintf(c.transcript, "[gray]Available commands: /prompt, /tasks, /sessions, /settings, /help, exit[white]\n\n")
		c.transcript.ScrollToEnd()
	}
}

// finishSession closes the conversation gracefully. The daemon flushes
// the memory pipeline and sends the recap, which arrives through the
// event loop before the socket closes.
func (c *Console) finishSession() {
	_, _ = fmt.Fprintf(c.transcript, "[gray]Finishing session...[white]\n\n")
	c.transcript.ScrollToEnd()
	c.setStatus("Finishing session, waiting for the recap...")

	c.closeOnce.Do(func() {
		go func() {
			if err := c.conv.Close(); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to close conversation")
			}
		}()
	})
}

// eventLoop renders daemon frames until the conversation ends.
func (c *Console) eventLoop() {
	for ev := range c.conv.Events() {
		ev := ev
		c.app.QueueUpdateDraw(func() {
			c.renderEvent(ev)
		})
	}

	err := c.conv.Err()
	c.app.QueueUpdateDraw(func() {
		c.endOpenReply()
		c.clearThinking()
		if err != nil {
			_, _ = fmt.Fprintf(c.transcript, "[red]Connection lost: %v[white]\n\n", err)
			c.setStatus("Disconnected | Ctrl+C: quit")
		} else {
			_, _ = fmt.Fprintf(c.transcript, "[gray]Session closed.[white]\n\n")
			c.setStatus("Session finished | Ctrl+C: quit")
		}
		c.transcript.ScrollToEnd()
	})
}

func (c *Console) renderEvent(ev api.Event) {
	switch ev.Type {
	case api.EventUtterance:
		// The daemon echoes transcribed audio so the console shows what
		// it heard.
		if ev.Utterance != nil {
			_, _ = fmt.Fprintf(c.transcript, "[cyan]You[white] (heard): %s\n\n", ev.Utterance.Text)
		}

	case api.EventReplyDelta:
		if ev.ReplyDelta == nil {
			break
		}
		if !c.replyOpen {
			c.clearThinking()
			_, _ = fmt.Fprintf(c.transcript, "[green]%s[white]: ", c.agentLabel())
			c.replyOpen = true
		}
		_, _ = fmt.Fprintf(c.transcript, "%s", ev.ReplyDelta.Text)

	case api.EventReply:
		if c.replyOpen {
			// The delta frames already rendered the text.
			c.endOpenReply()
			break
		}
		c.clearThinking()
		if ev.Reply != nil {
			_, _ = fmt.Fprintf(c.transcript, "[green]%s[white]: %s\n\n", c.agentLabel(), formatURLsAsHyperlinks(ev.Reply.Text))
		}

	case api.EventPromptRefreshed:
		c.endOpenReply()
		if ev.PromptRefreshed != nil {
			categories := strings.Join(ev.PromptRefreshed.Categories, ", ")
			if categories == "" {
				categories = "no categories"
			}
			_, _ = fmt.Fprintf(c.transcript, "[magenta]── memory updated (%s) ──[white]\n\n", categories)
			c.setStatus(fmt.Sprintf("Memory refreshed at %s", ev.PromptRefreshed.RefreshedAt.Local().Format("15:04:05")))
			c.notify("Magpie memory updated", fmt.Sprintf("Refreshed: %s", categories))
		}

	case api.EventRecap:
		c.endOpenReply()
		c.clearThinking()
		if ev.Recap != nil {
			_, _ = fmt.Fprintf(c.transcript, "[yellow]Recap[white]: %s\n\n", ev.Recap.Summary)
			c.notify("Magpie session recap", ev.Recap.Summary)
		}

	case api.EventError:
		c.endOpenReply()
		c.clearThinking()
		if ev.Error != nil {
			_, _ = fmt.Fprintf(c.transcript, "[red]Error[white]: %s\n\n", ev.Error.Message)
		}
	}
	c.transcript.ScrollToEnd()
}

// endOpenReply closes a partially streamed reply line so the next block
// starts on its own line.
func (c *Console) endOpenReply() {
	if !c.replyOpen {
		return
	}
	c.replyOpen = false
	_, _ = fmt.Fprintf(c.transcript, "\n\n")
}

// clearThinking strips the thinking indicator once a response or error
// lands.
func (c *Console) clearThinking() {
	currentText := c.transcript.GetText(false)
	if !strings.Contains(currentText, "thinking") {
		return
	}
	lines := strings.Split(currentText, "\n")
	newLines := make([]string, 0, len(lines))
	for _, line := range lines {
		if !strings.Contains(line, "thinking") {
			newLines = append(newLines, line)
		}
	}
	c.transcript.Clear()
	if len(newLines) > 0 {
		c.transcript.SetText(strings.Join(newLines, "\n"))
	}
}

func (c *Console) notify(title, message string) {
	if !c.cfg.Notify {
		return
	}
	go func() {
		if err := beeep.Notify(title, message, ""); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to send desktop notification")
		}
	}()
}

// printBlock renders a titled gray block. Safe to call from any
// goroutine.
func (c *Console) printBlock(title, body string) {
	c.app.QueueUpdateDraw(func() {
		_, _ = fmt.Fprintf(c.transcript, "[gray]── %s ──[white]\n%s\n\n", title, body)
		c.transcript.ScrollToEnd()
	})
}

func (c *Console) showPrompt() {
	sessionID := c.conv.SessionID()
	if sessionID == "" {
		c.printBlock("Current system prompt", "No session activity yet. Say something first.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	prompt, err := c.daemon.Prompt(ctx, sessionID)
	if err != nil {
		c.printBlock("Current system prompt", fmt.Sprintf("Could not load prompt: %v", err))
		return
	}
	c.printBlock("Current system prompt", prompt)
}

func (c *Console) showTasks() {
	sessionID := c.conv.SessionID()
	if sessionID == "" {
		c.printBlock("Memorization tasks", "No session activity yet. Say something first.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tasks, err := c.daemon.Tasks(ctx, sessionID)
	if err != nil {
		c.printBlock("Memorization tasks", fmt.Sprintf("Could not load tasks: %v", err))
		return
	}
	if len(tasks) == 0 {
		c.printBlock("Memorization tasks", "No memorization tasks yet.")
		return
	}

	var sb strings.Builder
	for _, task := range tasks {
		sb.WriteString(fmt.Sprintf("• %s  %s  attempts=%d", task.TaskID, task.State, task.Attempts))
		if task.Reason != "" {
			sb.WriteString(fmt.Sprintf("  (%s)", task.Reason))
		}
		sb.WriteString("\n")
	}
	c.printBlock("Memorization tasks", strings.TrimRight(sb.String(), "\n"))
}

func (c *Console) showSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sessions, err := c.daemon.ListSessions(ctx)
	if err != nil {
		c.printBlock("Sessions", fmt.Sprintf("Could not load sessions: %v", err))
		return
	}
	if len(sessions) == 0 {
		c.printBlock("Sessions", "No sessions yet.")
		return
	}

	var sb strings.Builder
	for _, s := range sessions {
		state := "finished"
		if s.Active {
			state = "active"
		}
		sb.WriteString(fmt.Sprintf("• %s  %s/%s  %s  started %s\n",
			s.ID, s.UserID, s.AgentID, state, s.StartedAt.Local().Format("Jan 2 15:04")))
	}
	c.printBlock("Sessions", strings.TrimRight(sb.String(), "\n"))
}
