// Package prompt asks the user for confirmations on the terminal. It
// implements approval.Dialog for calls made outside a chat session.
package prompt

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/flemzord/toolhost/internal/tool"
)

const autoApproveWarning = "Global auto-approval runs every tool without asking, " +
	"including tools that edit files, run commands or reach the network. " +
	"Only enable it in a sandboxed environment."

// ConfirmFunc shows one yes/no question.
type ConfirmFunc func(ctx context.Context, title, description, affirmative, negative string) (bool, error)

// Config configures a Dialog.
type Config struct {
	Input  io.Reader
	Output io.Writer

	// Accessible renders plain prompts instead of the TUI, for screen
	// readers and non-interactive terminals.
	Accessible bool

	// Confirm replaces the huh form. Used by tests.
	Confirm ConfirmFunc
}

// Dialog asks confirmations with huh forms, one at a time.
type Dialog struct {
	mu      sync.Mutex
	confirm ConfirmFunc
}

// New creates a Dialog reading from cfg.Input (default stdin) and writing
// to cfg.Output (default stderr).
func New(cfg Config) *Dialog {
	if cfg.Input == nil {
		cfg.Input = os.Stdin
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	confirm := cfg.Confirm
	if confirm == nil {
		confirm = huhConfirm(cfg.Input, cfg.Output, cfg.Accessible)
	}
	return &Dialog{confirm: confirm}
}

// ConfirmAutoApprove implements approval.Dialog.
func (d *Dialog) ConfirmAutoApprove(ctx context.Context) (bool, error) {
	return d.ask(ctx, "Enable global auto-approval?", autoApproveWarning, "Enable", "Cancel")
}

// Confirm implements approval.Dialog. The disclaimer is shown below the
// message.
func (d *Dialog) Confirm(ctx context.Context, msgs tool.ConfirmationMessages) (bool, error) {
	description := msgs.Message
	if msgs.Disclaimer != "" {
		description += "\n\n" + msgs.Disclaimer
	}
	return d.ask(ctx, msgs.Title, description, "Allow", "Deny")
}

func (d *Dialog) ask(ctx context.Context, title, description, affirmative, negative string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := d.confirm(ctx, title, description, affirmative, negative)
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

func huhConfirm(in io.Reader, out io.Writer, accessible bool) ConfirmFunc {
	return func(ctx context.Context, title, description, affirmative, negative string) (bool, error) {
		var ok bool
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(strings.TrimSpace(description)).
				Affirmative(affirmative).
				Negative(negative).
				Value(&ok),
		)).
			WithInput(in).
			WithOutput(out).
			WithAccessible(accessible)

		if err := form.RunWithContext(ctx); err != nil {
			return false, err
		}
		return ok, nil
	}
}
