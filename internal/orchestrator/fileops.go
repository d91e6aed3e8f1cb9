package orchestrator

import (
	"path"
	"regexp"
	"strings"

	"github.com/redstone-dev/redstone/internal/workspace"
)

// fileBlock matches a fenced code block whose first line is a comment naming
// a path: "# path", "// path", "# DELETE path".
var fileBlock = regexp.MustCompile("(?m)^```[\\w+#.-]*[ \\t]*\\n(?:#|//)[ \\t]*(DELETE[ \\t]+)?(\\S+)[ \\t]*\\n((?s:.*?))^```")

// ParseFileOps extracts file operations from agent output. A later block for
// the same path replaces an earlier one.
func ParseFileOps(output string) []workspace.FileOp {
	var ops []workspace.FileOp
	index := make(map[string]int)

	for _, m := range fileBlock.FindAllStringSubmatch(output, -1) {
		p, ok := cleanPath(m[2])
		if !ok {
			continue
		}

		op := workspace.FileOp{Path: p, Op: workspace.OpWrite, Content: m[3]}
		if m[1] != "" {
			op = workspace.FileOp{Path: p, Op: workspace.OpDelete}
		}

		if i, seen := index[p]; seen {
			ops[i] = op
			continue
		}
		index[p] = len(ops)
		ops = append(ops, op)
	}
	return ops
}

// cleanPath normalizes a path taken from a block header and rejects shebangs,
// absolute paths and parent traversal.
func cleanPath(raw string) (string, bool) {
	if strings.HasPrefix(raw, "!") || strings.HasPrefix(raw, "/") {
		return "", false
	}
	p := path.Clean(strings.TrimPrefix(raw, "./"))
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}
