package sandbox

import (
	"bytes"
	"io"
	"os"
	"sync"
	"time"
)

// cappedBuffer keeps the first limit bytes and silently drops the rest so the
// writer side never blocks on a full pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.limit > 0 {
		room := c.limit - int64(c.buf.Len())
		if room < int64(len(p)) {
			if room > 0 {
				c.buf.Write(p[:room])
			}
			c.truncated = true
			return len(p), nil
		}
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) Bytes() []byte {
	return c.buf.Bytes()
}

type pipes struct {
	stdinR, stdinW   *os.File
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File

	stdout *cappedBuffer
	stderr *cappedBuffer

	wg      sync.WaitGroup
	started bool
}

func newPipes(maxOutput int64) (*pipes, error) {
	p := &pipes{
		stdout: &cappedBuffer{limit: maxOutput},
		stderr: &cappedBuffer{limit: maxOutput},
	}
	var err error
	if p.stdinR, p.stdinW, err = os.Pipe(); err != nil {
		return nil, err
	}
	if p.stdoutR, p.stdoutW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, err
	}
	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, err
	}
	return p, nil
}

func (p *pipes) childFds() []uintptr {
	return []uintptr{p.stdinR.Fd(), p.stdoutW.Fd(), p.stderrW.Fd()}
}

// start runs once the child exists: feed stdin and drain both outputs.
func (p *pipes) start(stdin []byte) {
	if p.started {
		return
	}
	p.started = true
	go pipeWriter(p.stdinW, stdin)
	p.wg.Add(2)
	go pipeReader(&p.wg, p.stdoutR, p.stdout)
	go pipeReader(&p.wg, p.stderrR, p.stderr)
}

func (p *pipes) closeChild() {
	closeFile(p.stdinR)
	closeFile(p.stdoutW)
	closeFile(p.stderrW)
}

// wait blocks until both readers hit EOF or the grace period runs out, in
// which case the read ends are closed under them.
func (p *pipes) wait(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		closeFile(p.stdoutR)
		closeFile(p.stderrR)
		<-done
	}
}

func (p *pipes) closeAll() {
	for _, f := range []*os.File{p.stdinR, p.stdinW, p.stdoutR, p.stdoutW, p.stderrR, p.stderrW} {
		closeFile(f)
	}
}

func closeFile(f *os.File) {
	if f != nil {
		f.Close()
	}
}

func pipeReader(wg *sync.WaitGroup, pipe *os.File, out io.Writer) {
	defer wg.Done()
	io.Copy(out, pipe)
}

func pipeWriter(pipe *os.File, in []byte) {
	defer pipe.Close()
	pipe.Write(in)
}
