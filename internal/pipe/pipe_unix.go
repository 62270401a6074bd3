//go:build unix

package pipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Run executes program with args, feeding payload on the child's stdin in
// chunks no larger than an atomic pipe write. With capture enabled, the
// child's stdout is opportunistically drained with a nonblocking read after
// every chunk, so the parent never blocks writing a full stdin pipe while
// the child blocks writing a full stdout pipe. After the payload is fully
// delivered the stdin pipe is closed, the stdout pipe switches back to
// blocking, and the remainder is read to EOF. Without capture the child
// inherits the parent's stdout.
//
// A child that exits after reading only a prefix of its input is legitimate:
// the resulting closed-pipe write error stops feeding and is not reported.
// A nonzero exit status is reported in the Result, not as an error.
func Run(ctx context.Context, program string, args []string, payload []byte, capture bool) (Result, error) {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdin pipe: %w", err)
	}

	var stdoutR, stdoutW *os.File
	if capture {
		stdoutR, stdoutW, err = os.Pipe()
		if err != nil {
			stdinR.Close()
			stdinW.Close()
			return Result{}, fmt.Errorf("stdout pipe: %w", err)
		}
	}

	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Stdin = stdinR
	cmd.Stderr = os.Stderr
	if capture {
		cmd.Stdout = stdoutW
	} else {
		cmd.Stdout = os.Stdout
	}

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		if capture {
			stdoutR.Close()
			stdoutW.Close()
		}
		return Result{}, fmt.Errorf("start %s: %w", program, err)
	}

	// The child owns its ends now.
	stdinR.Close()
	if capture {
		stdoutW.Close()
	}

	var out bytes.Buffer
	outFD := -1
	if capture {
		outFD = int(stdoutR.Fd())
		_ = unix.SetNonblock(outFD, true)
	}

	feedErr := feed(stdinW, payload, outFD, &out)
	stdinW.Close() // child sees EOF

	if capture {
		_ = unix.SetNonblock(outFD, false)
		if err := drain(outFD, &out); err != nil && feedErr == nil {
			feedErr = fmt.Errorf("read child output: %w", err)
		}
		stdoutR.Close()
	}

	res := Result{Output: out.Bytes()}
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, fmt.Errorf("wait for %s: %w", program, err)
		}
		res.ExitStatus = exitErr.ExitCode()
	}
	return res, feedErr
}

// feed writes payload to the child in atomic-sized chunks, draining any
// already-available output between writes when outFD is valid.
func feed(stdinW *os.File, payload []byte, outFD int, out *bytes.Buffer) error {
	buf := make([]byte, chunkSize)
	for off := 0; off < len(payload); {
		n := len(payload) - off
		if n > chunkSize {
			n = chunkSize
		}
		w, err := stdinW.Write(payload[off : off+n])
		off += w
		if err != nil {
			if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
				return nil // child closed its stdin early
			}
			return fmt.Errorf("write to child: %w", err)
		}

		if outFD >= 0 {
			r, rerr := unix.Read(outFD, buf)
			if r > 0 {
				out.Write(buf[:r])
			}
			_ = rerr // EAGAIN when the child has produced nothing yet
		}
	}
	return nil
}

// drain reads fd to EOF. The fd must be in blocking mode.
func drain(fd int, out *bytes.Buffer) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			return nil
		}
	}
}
