// Package console is a line-oriented terminal front end for the
// interpretation session. It reads commands from an [io.Reader], forwards
// them to the session and renders session events as text.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/medinterp/internal/session"
)

// Controller is the command surface of the session. [*session.Machine]
// satisfies it.
type Controller interface {
	StartTurn(ctx context.Context, role session.Role) error
	StopTurn(ctx context.Context) error
	RequestSummary(ctx context.Context) error
	Snapshot(ctx context.Context) (session.Snapshot, error)
}

// ANSI sequence that returns to column 0 and clears the line.
const clearLine = "\r\x1b[K"

const helpText = `commands:
  patient | p    start recording the patient
  doctor  | d    start recording the doctor
  stop    | s    stop recording and send the turn
  summary        request a conversation summary
  status         show the session state
  help           show this help
  quit    | q    exit`

// styles colour the event labels. They render plain text when out is not a
// terminal.
type styles struct {
	patient lipgloss.Style
	doctor  lipgloss.Style
	info    lipgloss.Style
	err     lipgloss.Style
}

func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		patient: r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		doctor:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		info:    r.NewStyle().Foreground(lipgloss.Color("244")),
		err:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
}

func (s styles) role(r session.Role) lipgloss.Style {
	if r == session.RoleDoctor {
		return s.doctor
	}
	return s.patient
}

// Console renders events and dispatches commands. Output from
// [Console.HandleEvent] and [Console.Run] is serialised.
type Console struct {
	in     io.Reader
	out    io.Writer
	styles styles

	mu   sync.Mutex
	live bool // a progress line without newline is on screen
}

// New returns a console reading commands from in and writing to out.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out, styles: newStyles(out)}
}

// Run reads commands until "quit", end of input or ctx cancellation. It
// returns nil on quit and end of input.
func (c *Console) Run(ctx context.Context, ctrl Controller) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	c.println(helpText)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			if err != nil {
				return fmt.Errorf("console: read input: %w", err)
			}
			return nil
		case line := <-lines:
			if quit := c.dispatch(ctx, ctrl, line); quit {
				return nil
			}
		}
	}
}

// dispatch runs one command line and reports whether the user quit.
func (c *Console) dispatch(ctx context.Context, ctrl Controller, line string) bool {
	var err error
	switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
	case "":
		return false
	case "patient", "p":
		err = ctrl.StartTurn(ctx, session.RolePatient)
		if err == nil {
			c.println("recording patient… type 'stop' when done")
		}
	case "doctor", "d":
		err = ctrl.StartTurn(ctx, session.RoleDoctor)
		if err == nil {
			c.println("recording doctor… type 'stop' when done")
		}
	case "stop", "s":
		err = ctrl.StopTurn(ctx)
		if err == nil {
			c.println("sent, waiting for interpretation")
		}
	case "summary":
		err = ctrl.RequestSummary(ctx)
		if err == nil {
			c.println("summary requested")
		}
	case "status":
		var snap session.Snapshot
		snap, err = ctrl.Snapshot(ctx)
		if err == nil {
			c.println(formatSnapshot(snap))
		}
	case "help", "?":
		c.println(helpText)
	case "quit", "q", "exit":
		return true
	default:
		c.println(fmt.Sprintf("unknown command %q, type 'help'", cmd))
	}

	// Session errors are also delivered as events and printed there.
	var se *session.Error
	if err != nil && !errors.As(err, &se) {
		c.println(c.styles.err.Render("[error]") + " " + err.Error())
	}
	return false
}

// HandleEvent renders ev. It is safe to use as the session event handler.
func (c *Console) HandleEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventTranslationProgress:
		c.progress(ev.Text)
	case session.EventConnectionState:
		c.println(c.styles.info.Render("[connection]") + " " + string(ev.Status))
	case session.EventTurnCompleted:
		c.println(c.styles.role(ev.Role).Render("["+string(ev.Role)+"]") + " " + ev.Text)
	case session.EventAudioReady:
		c.println(c.styles.info.Render("[audio]") + fmt.Sprintf(" playing %s", ev.Audio.Duration()))
	case session.EventSummaryReady:
		c.println(c.styles.info.Render("[summary]") + "\n" + ev.Text)
	case session.EventNotice:
		c.println(c.styles.info.Render("[notice]") + " " + ev.Text)
	case session.EventError:
		c.println(c.styles.err.Render("[error:"+string(ev.Err.Kind)+"]") + " " + ev.Err.Error())
	}
}

func (c *Console) progress(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if text == "" {
		if c.live {
			fmt.Fprint(c.out, clearLine)
			c.live = false
		}
		return
	}
	fmt.Fprint(c.out, clearLine+"… "+text)
	c.live = true
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live {
		fmt.Fprint(c.out, clearLine)
		c.live = false
	}
	fmt.Fprintln(c.out, s)
}

func formatSnapshot(s session.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "connection: %s\n", s.Status)
	fmt.Fprintf(&b, "state:      %s", s.State)
	if s.Role != "" {
		fmt.Fprintf(&b, " (%s)", s.Role)
	}
	b.WriteByte('\n')
	if s.SessionID != "" {
		fmt.Fprintf(&b, "session:    %s\n", s.SessionID)
	}
	for _, r := range session.Roles {
		fmt.Fprintf(&b, "%-11s %d utterance(s)\n", string(r)+":", len(s.Transcripts[r]))
	}
	if s.Summary != "" {
		fmt.Fprintf(&b, "summary:    %s\n", s.Summary)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
