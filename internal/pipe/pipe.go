// Package pipe runs one payload through one subprocess invocation with
// deadlock-free bidirectional piping.
package pipe

// chunkSize bounds each write to the child's stdin. POSIX guarantees atomic
// pipe writes up to PIPE_BUF, which is at least 4096 everywhere we run, so a
// single write can never stall half-delivered.
const chunkSize = 4096

// Result describes one finished invocation.
type Result struct {
	// Output holds everything the child wrote to stdout, if capture was
	// enabled.
	Output []byte

	// ExitStatus is the child's exit code. Children killed by a signal
	// report the conventional negative code from os/exec.
	ExitStatus int
}
