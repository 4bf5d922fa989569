package flow_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/flow"
	"github.com/google/go-cmp/cmp"
)

func TestParseConfig(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		config, err := flow.ParseConfig(nil)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(flow.DefaultConfig(), config); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("OK", func(t *testing.T) {
		config, err := flow.ParseConfig([]byte(`
max_depth: 100
incremental: false
search: bfs
solver_timeout: 2s
parallelism: 4
`))
		if err != nil {
			t.Fatal(err)
		}
		want := flow.Config{MaxDepth: 100, Search: "bfs", SolverTimeout: 2 * time.Second, Parallelism: 4}
		if diff := cmp.Diff(want, config); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Partial", func(t *testing.T) {
		config, err := flow.ParseConfig([]byte("max_depth: 5\n"))
		if err != nil {
			t.Fatal(err)
		} else if config.MaxDepth != 5 || !config.Incremental || config.Search != "dfs" {
			t.Fatalf("unexpected config: %#v", config)
		}
	})

	for _, tt := range []struct {
		name string
		data string
		err  string
	}{
		{"ErrMaxDepth", "max_depth: 0\n", "config: max_depth must be positive"},
		{"ErrSolverTimeout", "solver_timeout: -1s\n", "config: solver_timeout must not be negative"},
		{"ErrParallelism", "parallelism: -2\n", "config: parallelism must not be negative"},
		{"ErrSearch", "search: astar\n", `config: invalid search strategy: "astar"`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := flow.ParseConfig([]byte(tt.data)); err == nil || err.Error() != tt.err {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}

	t.Run("ErrSyntax", func(t *testing.T) {
		if _, err := flow.ParseConfig([]byte("max_depth: [")); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "flow.yml")
		if err := os.WriteFile(path, []byte("search: bfs\n"), 0666); err != nil {
			t.Fatal(err)
		}

		config, err := flow.LoadConfig(path)
		if err != nil {
			t.Fatal(err)
		} else if config.Search != "bfs" {
			t.Fatalf("unexpected search: %q", config.Search)
		}
	})

	t.Run("ErrNotExist", func(t *testing.T) {
		if _, err := flow.LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); !os.IsNotExist(err) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestNewEngine_ErrConfig(t *testing.T) {
	config := flow.DefaultConfig()
	config.MaxDepth = -1
	if _, err := flow.NewEngine(NewMockSolver(flow.Sat), flow.WithConfig(config)); err == nil || err.Error() != "config: max_depth must be positive" {
		t.Fatalf("unexpected error: %v", err)
	}
}
