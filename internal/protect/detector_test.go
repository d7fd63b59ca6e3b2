package protect

import (
	"context"
	"strings"
	"testing"

	"github.com/ShayCichocki/orca/pkg/models"
)

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		pattern string
		want    bool
	}{
		{"double star matches deep path", "/a/b/c/d/file.go", "**/c/**", true},
		{"double star spans nothing", "/.env", "**/.env", true},
		{"trailing double star matches directory", "/home/u/.ssh", "**/.ssh/**", true},
		{"segment wildcard", "/app/.env.local", "**/.env.*", true},
		{"literal match", "config/settings.yaml", "config/settings.yaml", true},
		{"segment wildcard does not cross slash", "config/a/settings.yaml", "config/*.yaml", false},
		{"different directory", "/api/handler.go", "**/secrets/**", false},
		{"bad pattern never matches", "/a/b", "**/[", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchGlob(tt.path, tt.pattern); got != tt.want {
				t.Errorf("matchGlob(%q, %q) = %v, want %v", tt.path, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestDetector_IsProtected(t *testing.T) {
	d := New()

	tests := []struct {
		path string
		want bool
	}{
		{".env", true},
		{"./.env", true},
		{"deploy/.env.production", true},
		{"/home/user/.ssh/config", true},
		{"/home/user/.aws/credentials", true},
		{"config/secrets/db.yaml", true},
		{"certs/server.PEM", true},
		{"db_password.txt", true},
		{"keys/id_rsa", true},
		{"README.md", false},
		{"internal/budget/manager.go", false},
		{"docs/environment.md", false},
		{".", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := d.IsProtected(tt.path); got != tt.want {
				_, reason := d.IsProtectedWithReason(tt.path)
				t.Errorf("IsProtected(%q) = %v (%s), want %v", tt.path, got, reason, tt.want)
			}
		})
	}
}

func TestDetector_ExtraRules(t *testing.T) {
	d := New(Rules{
		Patterns:  []string{"**/internal/billing/**"},
		Keywords:  []string{"payroll"},
		FileTypes: []string{".sqlite"},
	})

	for _, p := range []string{"internal/billing/invoice.go", "reports/payroll-2025.csv", "data/orca.sqlite"} {
		if ok, _ := d.IsProtectedWithReason(p); !ok {
			t.Errorf("IsProtected(%q) = false, want true", p)
		}
	}

	ok, reason := d.IsProtectedWithReason("internal/billing/invoice.go")
	if !ok || !strings.Contains(reason, "internal/billing") {
		t.Errorf("reason = %q, want the matching pattern", reason)
	}
}

func TestDetector_Policy(t *testing.T) {
	policy := New().Policy()
	task := models.Task{ID: "t"}

	tests := []struct {
		name string
		step models.PlanStep
		want int
	}{
		{
			name: "sensitive path rejected",
			step: models.PlanStep{ToolName: "read_file", ToolArgs: map[string]any{"path": ".env"}},
			want: 1,
		},
		{
			name: "suffixed argument checked",
			step: models.PlanStep{ToolName: "copy", ToolArgs: map[string]any{"src_path": "id_rsa", "dst_path": "certs/a.pem"}},
			want: 2,
		},
		{
			name: "ordinary path allowed",
			step: models.PlanStep{ToolName: "read_file", ToolArgs: map[string]any{"path": "go.mod"}},
			want: 0,
		},
		{
			name: "other arguments ignored",
			step: models.PlanStep{ToolName: "echo", ToolArgs: map[string]any{"text": ".env"}},
			want: 0,
		},
		{
			name: "non-string path ignored",
			step: models.PlanStep{ToolName: "read_file", ToolArgs: map[string]any{"path": 7}},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs, err := policy.Check(context.Background(), task, tt.step)
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if len(vs) != tt.want {
				t.Fatalf("Check() = %v, want %d violations", vs, tt.want)
			}
			for _, v := range vs {
				if !v.Critical || v.Rule != "protected_path" {
					t.Errorf("violation = %+v, want critical protected_path", v)
				}
			}
		})
	}
}
