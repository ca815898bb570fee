package process

import (
	"context"
	"io"
	"os"

	"github.com/justapithecus/forge/digest"
	"github.com/justapithecus/forge/types"
)

// captureLimit is the in-memory threshold above which a capture spills the
// remainder to a temp file rather than growing an unbounded byte slice --
// a process that logs gigabytes of output must not retain it all in
// process memory before it's digested.
const captureLimit = 4 * 1024 * 1024

// outputCapture implements io.Writer, buffering up to captureLimit bytes in
// memory and spilling anything beyond that to a temp file. Generalizes
// iox.DiscardClose's "don't let an output sink's failure be fatal" spirit
// into a bounded-buffer writer, a concern the teacher's IPC-frame-based
// stdout reader never needed because it read structured frames rather than
// raw subprocess output.
type outputCapture struct {
	mem     []byte
	spill   *os.File
	spilled bool
}

func newCapture() *outputCapture {
	return &outputCapture{}
}

func (c *outputCapture) Write(p []byte) (int, error) {
	if !c.spilled && len(c.mem)+len(p) <= captureLimit {
		c.mem = append(c.mem, p...)
		return len(p), nil
	}

	if !c.spilled {
		f, err := os.CreateTemp("", "forge-capture-*")
		if err != nil {
			return 0, err
		}
		if _, err := f.Write(c.mem); err != nil {
			_ = f.Close()
			return 0, err
		}
		c.spill = f
		c.spilled = true
	}
	return c.spill.Write(p)
}

// digest stores the captured bytes and returns their digest, cleaning up
// any spill file afterward.
func (c *outputCapture) digest(ctx context.Context, store digest.Store) (types.Digest, error) {
	if !c.spilled {
		return store.Store(ctx, c.mem)
	}

	defer func() {
		name := c.spill.Name()
		_ = c.spill.Close()
		_ = os.Remove(name)
	}()

	if _, err := c.spill.Seek(0, io.SeekStart); err != nil {
		return types.Digest{}, err
	}
	data, err := io.ReadAll(c.spill)
	if err != nil {
		return types.Digest{}, err
	}
	return store.Store(ctx, data)
}
