package digest

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/justapithecus/forge/types"
)

// parseDirectory parses the canonical serialization produced by
// types.Directory.CanonicalBytes.
func parseDirectory(data []byte) (types.Directory, error) {
	var dir types.Directory
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "file":
			if len(fields) != 5 {
				return types.Directory{}, fmt.Errorf("digest: malformed file entry %q", line)
			}
			d, err := types.ParseDigest(fields[2])
			if err != nil {
				return types.Directory{}, fmt.Errorf("digest: malformed file entry %q: %w", line, err)
			}
			dir.Files = append(dir.Files, types.FileNode{
				Name:         fields[1],
				Digest:       d,
				IsExecutable: fields[4] == "1",
			})
		case "dir":
			if len(fields) != 3 {
				return types.Directory{}, fmt.Errorf("digest: malformed dir entry %q", line)
			}
			d, err := types.ParseDigest(fields[2])
			if err != nil {
				return types.Directory{}, fmt.Errorf("digest: malformed dir entry %q: %w", line, err)
			}
			dir.Dirs = append(dir.Dirs, types.DirNode{Name: fields[1], Digest: d})
		default:
			return types.Directory{}, fmt.Errorf("digest: unknown entry kind %q", fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return types.Directory{}, err
	}
	return dir, nil
}
