package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/m4xw311/egoist/config"
	"github.com/m4xw311/egoist/errors"
)

const FileToolName = "file"

type FileOperation struct {
	OperationType string `json:"operation_type" jsonschema:"enum=create,enum=read,enum=delete,enum=insert_line,enum=update_line,enum=delete_line" jsonschema_description:"Type of file operation"`
	Path          string `json:"path" jsonschema_description:"Path of the file to operate on"`
	Content       string `json:"content,omitempty" jsonschema_description:"New file content for create, insert_line and update_line"`
	LineNumber    int    `json:"line_number,omitempty" jsonschema_description:"Zero-based line number for line operations"`
}

type FileInput struct {
	Operations []FileOperation `json:"operations" jsonschema_description:"File operations to execute in order"`
}

type fileTool struct {
	fsAccess *config.FilesystemAccess
}

func NewFileTool(fsAccess *config.FilesystemAccess) (Tool, error) {
	t := &fileTool{fsAccess: fsAccess}
	return NewTool(FileToolName,
		"Execute a sequence of file operations. Returns a JSON list with one result per operation.",
		t.execute)
}

func (t *fileTool) execute(ctx context.Context, in FileInput) (string, error) {
	results := make([]string, 0, len(in.Operations))
	for _, op := range in.Operations {
		res, err := t.apply(op)
		if err != nil {
			res = fmt.Sprintf("Error: %s on '%s': %v", op.OperationType, op.Path, err)
		}
		results = append(results, res)
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode file results")
	}
	return string(data), nil
}

func (t *fileTool) apply(op FileOperation) (string, error) {
	hidden, err := isPathRestricted(op.Path, t.fsAccess.Hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", errors.New("access denied: path '%s' is hidden", op.Path)
	}

	if op.OperationType == "read" {
		content, err := os.ReadFile(op.Path)
		if err != nil {
			return "", errors.Wrapf(err, "failed to read file '%s'", op.Path)
		}
		return string(content), nil
	}

	readOnly, err := isPathRestricted(op.Path, t.fsAccess.ReadOnly)
	if err != nil {
		return "", err
	}
	if readOnly {
		return "", errors.New("access denied: path '%s' is read-only", op.Path)
	}

	switch op.OperationType {
	case "create":
		if err := os.WriteFile(op.Path, []byte(op.Content), 0644); err != nil {
			return "", errors.Wrapf(err, "failed to write to file '%s'", op.Path)
		}
		return fmt.Sprintf("Successfully wrote %d bytes to %s", len(op.Content), op.Path), nil
	case "delete":
		if err := os.Remove(op.Path); err != nil && !os.IsNotExist(err) {
			return "", errors.Wrapf(err, "failed to delete '%s'", op.Path)
		}
		return fmt.Sprintf("Deleted %s", op.Path), nil
	}

	return t.editLines(op)
}

// editLines applies a line operation. Lines are counted from zero and the file
// is rewritten joined by newlines.
func (t *fileTool) editLines(op FileOperation) (string, error) {
	data, err := os.ReadFile(op.Path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", op.Path)
	}
	lines := splitLines(string(data))
	n := op.LineNumber

	switch op.OperationType {
	case "insert_line":
		if n < 0 || n > len(lines) {
			return "", errors.New("line %d out of range [0, %d]", n, len(lines))
		}
		lines = append(lines[:n], append([]string{op.Content}, lines[n:]...)...)
	case "update_line":
		if n < 0 || n >= len(lines) {
			return "", errors.New("line %d out of range [0, %d)", n, len(lines))
		}
		lines[n] = op.Content
	case "delete_line":
		if n < 0 || n >= len(lines) {
			return "", errors.New("line %d out of range [0, %d)", n, len(lines))
		}
		lines = append(lines[:n], lines[n+1:]...)
	default:
		return "", errors.New("unknown operation type '%s'", op.OperationType)
	}

	if err := os.WriteFile(op.Path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write to file '%s'", op.Path)
	}
	return fmt.Sprintf("%s %d applied to %s", op.OperationType, n, op.Path), nil
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
