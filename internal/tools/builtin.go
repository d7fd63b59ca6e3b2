package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Echo returns its text argument unchanged.
func Echo() Tool {
	return Tool{
		Name:        "echo",
		Description: "Return the given text unchanged.",
		Schema: Schema{
			Properties: map[string]Property{
				"text": {Type: "string", Description: "Text to return"},
			},
			Required: []string{"text"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return args["text"].(string), nil
		},
	}
}

// ReadFile reads a file under workDir with cat -n style line numbers.
func ReadFile(workDir string) Tool {
	return Tool{
		Name:        "read_file",
		Description: "Read a file. Returns contents with line numbers.",
		Schema: Schema{
			Properties: map[string]Property{
				"path":   {Type: "string", Description: "File path, relative to the working directory"},
				"offset": {Type: "integer", Description: "Line number to start reading from (1-indexed, optional)"},
				"limit":  {Type: "integer", Description: "Maximum number of lines to read (optional)"},
			},
			Required: []string{"path"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			content, err := os.ReadFile(resolvePath(workDir, args["path"].(string)))
			if err != nil {
				return "", fmt.Errorf("read file: %w", err)
			}

			lines := strings.Split(string(content), "\n")
			start := 0
			if off := intArg(args, "offset"); off > 0 {
				start = off - 1
				if start >= len(lines) {
					return "", fmt.Errorf("offset beyond end of file")
				}
			}
			end := len(lines)
			if lim := intArg(args, "limit"); lim > 0 {
				end = min(start+lim, len(lines))
			}

			var result strings.Builder
			for i := start; i < end; i++ {
				fmt.Fprintf(&result, "%6d\t%s\n", i+1, lines[i])
			}
			return result.String(), nil
		},
	}
}

// ListDir lists a directory under workDir.
func ListDir(workDir string) Tool {
	return Tool{
		Name:        "list_dir",
		Description: "List the entries of a directory.",
		Schema: Schema{
			Properties: map[string]Property{
				"path": {Type: "string", Description: "Directory path, relative to the working directory"},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			p, _ := args["path"].(string)
			entries, err := os.ReadDir(resolvePath(workDir, p))
			if err != nil {
				return "", fmt.Errorf("read directory: %w", err)
			}

			var result strings.Builder
			for _, entry := range entries {
				info, _ := entry.Info()
				switch {
				case info == nil:
					fmt.Fprintf(&result, "? %s\n", entry.Name())
				case entry.IsDir():
					fmt.Fprintf(&result, "d %s/\n", entry.Name())
				default:
					fmt.Fprintf(&result, "- %s (%d bytes)\n", entry.Name(), info.Size())
				}
			}
			return result.String(), nil
		},
	}
}

// Builtins returns the built-in tools rooted at workDir.
func Builtins(workDir string) []Tool {
	return []Tool{Echo(), ReadFile(workDir), ListDir(workDir)}
}

func resolvePath(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

func intArg(args map[string]any, key string) int {
	switch n := args[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
