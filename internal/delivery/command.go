package delivery

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
)

// sysexits EX_TEMPFAIL, the conventional "try again later" exit status of
// sendmail-compatible injectors.
const exTempFail = 75

// Command delivers by piping the message to a sendmail-compatible program:
// `prog [args...] -f <envelope> -- <recipients...>` with the raw message on
// stdin. Exit 0 delivers, EX_TEMPFAIL temp-fails the whole recipient set,
// anything else perm-fails it.
type Command struct {
	path string
	args []string
	log  *slog.Logger
}

// NewCommand builds a command deliverer for the given program and fixed
// leading arguments.
func NewCommand(path string, args ...string) *Command {
	return &Command{
		path: path,
		args: args,
		log:  slog.Default().With("component", "delivery-command", "program", path),
	}
}

func (c *Command) Deliver(ctx context.Context, msg []byte, envelopeSender string, recipients []string) ([]RecipientResult, error) {
	args := append(append([]string{}, c.args...), "-f", envelopeSender, "--")
	args = append(args, recipients...)

	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Stdin = bytes.NewReader(msg)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return uniformResults(recipients, Delivered, ""), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		detail := stderr.String()
		c.log.Warn("delivery program failed",
			"exit_code", exitErr.ExitCode(), "recipients", len(recipients), "stderr", detail)
		if exitErr.ExitCode() == exTempFail {
			return uniformResults(recipients, TempFail, detail), nil
		}
		return uniformResults(recipients, PermFail, detail), nil
	}
	// The program could not be run at all.
	return nil, err
}

func uniformResults(recipients []string, outcome Outcome, detail string) []RecipientResult {
	results := make([]RecipientResult, len(recipients))
	for i, r := range recipients {
		results[i] = RecipientResult{Recipient: r, Outcome: outcome, Message: detail}
	}
	return results
}
