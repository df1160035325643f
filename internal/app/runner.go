package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/grixate/backupcron/internal/cron"
)

// ErrNoRunner is returned for every dispatch when no runner command is set.
var ErrNoRunner = errors.New("runner.command is not configured")

const maxResultLen = 512

// CommandRunner runs a shell command for every due schedule. The backup itself
// belongs to the command; its last line of output becomes the run result.
type CommandRunner struct {
	command string
	timeout time.Duration
}

func NewCommandRunner(command string, timeout time.Duration) *CommandRunner {
	return &CommandRunner{command: strings.TrimSpace(command), timeout: timeout}
}

func (r *CommandRunner) Handler() cron.Handler {
	return r.Run
}

func (r *CommandRunner) Run(ctx context.Context, schedule cron.Schedule) (string, error) {
	if r.command == "" {
		return "", ErrNoRunner
	}
	execCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, "sh", "-c", r.command)
	cmd.Env = append(os.Environ(), scheduleEnv(schedule)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	if execCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("runner timed out after %s", r.timeout)
	}
	if err != nil {
		detail := lastLine(stderr.String())
		if detail == "" {
			detail = lastLine(stdout.String())
		}
		if detail != "" {
			return "", fmt.Errorf("runner: %w: %s", err, detail)
		}
		return "", fmt.Errorf("runner: %w", err)
	}
	return lastLine(stdout.String()), nil
}

func scheduleEnv(schedule cron.Schedule) []string {
	return []string{
		"BACKUPCRON_SCHEDULE_ID=" + schedule.ID,
		"BACKUPCRON_CONNECTION_ID=" + schedule.ConnectionID,
		"BACKUPCRON_CRON_SCHEDULE=" + schedule.Expr,
		"BACKUPCRON_RETENTION_DAYS=" + strconv.Itoa(schedule.RetentionDays),
		"BACKUPCRON_S3_CLEANUP=" + strconv.FormatBool(schedule.S3CleanupOnRetention),
	}
}

func lastLine(output string) string {
	output = strings.TrimSpace(output)
	if i := strings.LastIndexByte(output, '\n'); i >= 0 {
		output = strings.TrimSpace(output[i+1:])
	}
	if len(output) > maxResultLen {
		output = output[:maxResultLen]
	}
	return output
}
