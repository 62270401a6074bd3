//go:build !unix

package pipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Run executes program with args, feeding payload on the child's stdin.
// Without raw nonblocking pipe reads available, os/exec's own copier
// goroutines keep both directions moving, which rules out the stdin/stdout
// mutual stall just as well.
func Run(ctx context.Context, program string, args []string, payload []byte, capture bool) (Result, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stderr = os.Stderr

	var out bytes.Buffer
	if capture {
		cmd.Stdout = &out
	} else {
		cmd.Stdout = os.Stdout
	}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{Output: out.Bytes()}, fmt.Errorf("run %s: %w", program, err)
		}
		return Result{Output: out.Bytes(), ExitStatus: exitErr.ExitCode()}, nil
	}
	return Result{Output: out.Bytes()}, nil
}
