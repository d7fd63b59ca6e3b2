package protect

import (
	"context"
	"fmt"
	"maps"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/ShayCichocki/orca/internal/executor"
	"github.com/ShayCichocki/orca/pkg/models"
)

// Rules are additional checks layered over the defaults.
type Rules struct {
	Patterns  []string `mapstructure:"patterns" yaml:"patterns"`
	Keywords  []string `mapstructure:"keywords" yaml:"keywords"`
	FileTypes []string `mapstructure:"file_types" yaml:"file_types"`
}

// Detector checks whether paths are sensitive.
type Detector struct {
	mu        sync.RWMutex
	patterns  []string
	keywords  []string
	fileTypes []string
}

// New creates a detector with the default rules plus any extra rules.
func New(extra ...Rules) *Detector {
	d := &Detector{
		patterns:  append([]string(nil), DefaultPatterns...),
		keywords:  append([]string(nil), DefaultKeywords...),
		fileTypes: append([]string(nil), DefaultFileTypes...),
	}
	for _, r := range extra {
		d.Add(r)
	}
	return d
}

// Add appends rules to the detector.
func (d *Detector) Add(r Rules) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patterns = append(d.patterns, r.Patterns...)
	d.keywords = append(d.keywords, r.Keywords...)
	d.fileTypes = append(d.fileTypes, r.FileTypes...)
}

// IsProtected reports whether p is sensitive.
func (d *Detector) IsProtected(p string) bool {
	ok, _ := d.IsProtectedWithReason(p)
	return ok
}

// IsProtectedWithReason reports whether p is sensitive and which rule matched.
func (d *Detector) IsProtectedWithReason(p string) (bool, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	clean := path.Clean(filepath.ToSlash(p))
	// Patterns start with "**/" so a relative "./x" and "x" behave the same.
	rooted := "/" + strings.TrimPrefix(clean, "/")

	for _, pattern := range d.patterns {
		if matchGlob(rooted, pattern) {
			return true, "matches pattern " + pattern
		}
	}

	base := strings.ToLower(path.Base(clean))
	for _, kw := range d.keywords {
		if strings.Contains(base, strings.ToLower(kw)) {
			return true, "name contains " + kw
		}
	}

	ext := strings.ToLower(path.Ext(base))
	for _, ft := range d.fileTypes {
		if ext != "" && ext == strings.ToLower(ft) {
			return true, "file type " + ft
		}
	}
	return false, ""
}

// Policy returns an executor policy that rejects any step whose string
// argument named "path", or ending in "_path", is sensitive.
func (d *Detector) Policy() executor.PolicyChecker {
	return executor.PolicyFunc(func(_ context.Context, _ models.Task, step models.PlanStep) ([]executor.Violation, error) {
		var out []executor.Violation
		for _, key := range slices.Sorted(maps.Keys(step.ToolArgs)) {
			if key != "path" && !strings.HasSuffix(key, "_path") {
				continue
			}
			p, ok := step.ToolArgs[key].(string)
			if !ok {
				continue
			}
			if hit, reason := d.IsProtectedWithReason(p); hit {
				out = append(out, executor.Violation{
					Rule:     "protected_path",
					Message:  fmt.Sprintf("%s %q: %s", step.ToolName, p, reason),
					Critical: true,
				})
			}
		}
		return out, nil
	})
}
