package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
)

// ReadFile returns the text content of path.
func (m *Manager) ReadFile(ctx context.Context, workspaceID, path string) (string, error) {
	ws, err := m.records.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	full, err := resolve(ws.Path, path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrFileNotFound, path)
	}
	if info.Size() > MaxReadBytes {
		return "", fmt.Errorf("%w: %s is %d bytes (max %d)", ErrFileTooLarge, path, info.Size(), MaxReadBytes)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if isBinary(data) {
		return "", fmt.Errorf("%w: %s", ErrBinaryFile, path)
	}
	return string(data), nil
}

// WriteFile replaces path with content, creating parent directories.
func (m *Manager) WriteFile(ctx context.Context, workspaceID, path, content string) error {
	unlock, ws, err := m.lock(ctx, workspaceID)
	if err != nil {
		return err
	}
	defer unlock()

	full, err := resolve(ws.Path, path)
	if err != nil {
		return err
	}
	return m.retry(ctx, func() error { return writeAtomic(full, []byte(content)) })
}

// DeleteFile removes path, or a directory and everything under it.
func (m *Manager) DeleteFile(ctx context.Context, workspaceID, path string) error {
	unlock, ws, err := m.lock(ctx, workspaceID)
	if err != nil {
		return err
	}
	defer unlock()

	full, err := resolve(ws.Path, path)
	if err != nil {
		return err
	}
	return m.retry(ctx, func() error { return remove(full, path) })
}

// Apply runs ops in order while holding the workspace lock once. Each op is
// retried on its own; a failed op does not stop the rest.
func (m *Manager) Apply(ctx context.Context, workspaceID string, ops []FileOp, onApplied func(FileResult)) ([]FileResult, error) {
	unlock, ws, err := m.lock(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	results := make([]FileResult, 0, len(ops))
	for _, op := range ops {
		res := FileResult{Path: op.Path, Op: op.Op}
		err := func() error {
			full, err := resolve(ws.Path, op.Path)
			if err != nil {
				return err
			}
			switch op.Op {
			case OpWrite:
				return m.retry(ctx, func() error { return writeAtomic(full, []byte(op.Content)) })
			case OpDelete:
				return m.retry(ctx, func() error { return remove(full, op.Path) })
			default:
				return fmt.Errorf("unknown file operation %q", op.Op)
			}
		}()
		if err != nil {
			res.Error = err.Error()
			log.Warn().Err(err).Str("workspace_id", workspaceID).Str("path", op.Path).Msg("file operation failed")
		} else {
			res.Applied = true
		}
		results = append(results, res)
		if onApplied != nil {
			onApplied(res)
		}
	}
	return results, nil
}

// writeAtomic writes to a temp file in the target directory and renames it
// over the destination, so readers see either the old or the new content.
func writeAtomic(full string, data []byte) error {
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(full); err == nil {
		if info.IsDir() {
			return fmt.Errorf("cannot overwrite directory %s", full)
		}
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, ".redstone-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}

func remove(full, rel string) error {
	if _, err := os.Lstat(full); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, rel)
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("failed to delete %s: %w", rel, err)
	}
	return nil
}

// ListFiles returns the tree under dir down to depth levels (DefaultListDepth
// when depth <= 0). Hidden entries and dependency directories are skipped.
func (m *Manager) ListFiles(ctx context.Context, workspaceID, dir string, depth int) ([]FileEntry, error) {
	ws, err := m.records.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = DefaultListDepth
	}

	target := ws.Path
	if dir != "" && dir != "." && dir != "/" {
		if target, err = resolve(ws.Path, dir); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		return []FileEntry{}, nil
	}
	return listDir(ws.Path, target, 0, depth)
}

func listDir(root, dir string, level, maxDepth int) ([]FileEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return []FileEntry{}, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	result := []FileEntry{}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || skipDirs[name] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		full := filepath.Join(dir, name)
		rel, _ := filepath.Rel(root, full)
		entry := FileEntry{
			Name:     name,
			Path:     filepath.ToSlash(rel),
			IsDir:    e.IsDir(),
			Modified: info.ModTime().UTC(),
		}
		if e.IsDir() {
			if level < maxDepth {
				if entry.Children, err = listDir(root, full, level+1, maxDepth); err != nil {
					return nil, err
				}
			}
		} else {
			entry.Size = info.Size()
		}
		result = append(result, entry)
	}
	return result, nil
}

// Search finds files whose content matches query, a case-insensitive regular
// expression (taken literally when it does not compile). filePattern is a
// doublestar glob; patterns without a slash match the base name at any depth.
func (m *Manager) Search(ctx context.Context, workspaceID, query, filePattern string) ([]SearchResult, error) {
	ws, err := m.records.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return []SearchResult{}, nil
	}
	if filePattern == "" {
		filePattern = "*"
	}
	if !doublestar.ValidatePattern(filePattern) {
		return nil, fmt.Errorf("invalid file pattern %q", filePattern)
	}

	re, err := regexp.Compile("(?i)" + query)
	if err != nil {
		re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(query))
	}
	matchBase := !strings.Contains(filePattern, "/")

	results := []SearchResult{}
	errStop := errors.New("stop")
	walkErr := filepath.WalkDir(ws.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != ws.Path && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, _ := filepath.Rel(ws.Path, path)
		rel = filepath.ToSlash(rel)
		subject := rel
		if matchBase {
			subject = d.Name()
		}
		if ok, _ := doublestar.Match(filePattern, subject); !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > MaxSearchFileBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || isBinary(data) {
			return nil
		}

		content := string(data)
		locs := re.FindAllStringIndex(content, -1)
		if len(locs) == 0 {
			return nil
		}
		results = append(results, SearchResult{
			Path:    rel,
			Matches: len(locs),
			Preview: preview(content, locs[0][0], locs[0][1]),
		})
		if len(results) >= MaxSearchResults {
			return errStop
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, errStop) {
		return nil, walkErr
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, nil
}

// preview returns the match with up to previewContext bytes either side,
// ellipsized and flattened onto one line.
func preview(content string, start, end int) string {
	from := start - previewContext
	if from < 0 {
		from = 0
	}
	to := end + previewContext
	if to > len(content) {
		to = len(content)
	}
	for from > 0 && !utf8.RuneStart(content[from]) {
		from--
	}
	for to < len(content) && !utf8.RuneStart(content[to]) {
		to++
	}

	p := content[from:to]
	if from > 0 {
		p = "..." + p
	}
	if to < len(content) {
		p += "..."
	}
	return strings.ReplaceAll(p, "\n", " ")
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data)
}
