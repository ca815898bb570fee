package process

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

//go:embed bundle/run_reproducer.sh.tmpl
var reproducerTemplate []byte

var (
	extractOnce sync.Once
	extracted   string
	extractErr  error
)

// ReproducerTemplatePath extracts the embedded reproducer script template to
// a per-process temp file on first call and returns its path on every call
// thereafter. Direct generalization of executor/embed.go's sync.Once
// embed-and-extract-once pattern, repurposed from "extract the bundled
// Node executor" to "extract the keep-sandboxes reproducer script". The
// template is written out as-is, placeholders unfilled; nothing in this
// module calls this function or fills the template in.
func ReproducerTemplatePath() (string, error) {
	extractOnce.Do(func() {
		dir, err := os.MkdirTemp("", "forge-reproducer-*")
		if err != nil {
			extractErr = fmt.Errorf("process: extract reproducer template: %w", err)
			return
		}
		path := filepath.Join(dir, "run_reproducer.sh.tmpl")
		if err := os.WriteFile(path, reproducerTemplate, 0o644); err != nil {
			extractErr = fmt.Errorf("process: extract reproducer template: %w", err)
			return
		}
		extracted = path
	})
	return extracted, extractErr
}
