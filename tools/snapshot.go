package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/m4xw311/egoist/config"
	"github.com/m4xw311/egoist/errors"
)

const SnapshotToolName = "snapshot"

type SnapshotInput struct {
	LineNumbers bool `json:"line_numbers,omitempty" jsonschema_description:"Include line numbers in output"`
	InfraFiles  bool `json:"infra_files,omitempty" jsonschema_description:"Include infrastructure files in output"`
}

type snapshotTool struct {
	cfg config.Snapshot
}

func NewSnapshotTool(cfg config.Snapshot) (Tool, error) {
	t := &snapshotTool{cfg: cfg}
	return NewTool(SnapshotToolName,
		"Concatenate and optionally annotate project source files with line numbers (possibly including infrastructure files). The result is also written to "+cfg.Output+".",
		t.execute)
}

func (t *snapshotTool) execute(ctx context.Context, in SnapshotInput) (string, error) {
	files, err := globAll(t.cfg.Patterns)
	if err != nil {
		return "", err
	}
	if in.InfraFiles {
		infra, err := globAll(t.cfg.InfraFiles)
		if err != nil {
			return "", err
		}
		files = append(files, infra...)
	}

	var b strings.Builder
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := appendFile(&b, file, in.LineNumbers); err != nil {
			return "", err
		}
	}

	out := b.String()
	if t.cfg.Output != "" {
		if err := os.WriteFile(t.cfg.Output, []byte(out), 0644); err != nil {
			return "", errors.Wrapf(err, "failed to write snapshot to '%s'", t.cfg.Output)
		}
	}
	return out, nil
}

// globAll expands patterns relative to the working directory, sorted and
// without duplicates.
func globAll(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, errors.Wrapf(err, "invalid snapshot pattern '%s'", pattern)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

func appendFile(b *strings.Builder, path string, lineNumbers bool) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read '%s'", path)
	}
	defer f.Close()

	fmt.Fprintf(b, "--- %s ---\n```\n", path)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		if lineNumbers {
			fmt.Fprintf(b, "%6d  ", n)
		}
		b.WriteString(sc.Text())
		b.WriteByte('\n')
	}
	b.WriteString("```\n")
	return sc.Err()
}
