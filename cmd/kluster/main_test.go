package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const scenarioFixture = `
centroids:
  - id: c1
    point: [0, 0]
  - id: c2
    point: [10, 0]
points:
  - id: m1
    genres: [Drama]
    kmeansNorm: [0, 0]
  - id: m2
    genres: [Drama]
    kmeansNorm: [0, 1]
  - id: m3
    genres: [Drama]
    kmeansNorm: [10, 0]
  - id: m4
    genres: [Drama, Comedy]
    kmeansNorm: [10, 1]
`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movies.yaml")
	if err := os.WriteFile(path, []byte(scenarioFixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func newTestApp(stdin string) (*app, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &app{
		stdin:  strings.NewReader(stdin),
		stdout: &stdout,
		stderr: &stderr,
	}, &stdout, &stderr
}

func memoryArgs(fixturePath string, rest ...string) []string {
	args := []string{
		"--set", "store.backend=memory",
		"--set", "store.fixture=" + fixturePath,
		"--set", "log.level=error",
	}
	return append(args, rest...)
}

func TestParseGlobalFlags(t *testing.T) {
	flags, args, err := parseGlobalFlags([]string{"--json", "--config", "k.yaml", "--set=cluster.dimension=3", "run", "Drama"})
	if err != nil {
		t.Fatalf("parseGlobalFlags failed: %v", err)
	}
	if !flags.JSON {
		t.Error("expected --json")
	}
	if len(flags.ConfigArgs) != 3 {
		t.Errorf("unexpected config args %v", flags.ConfigArgs)
	}
	if len(args) != 2 || args[0] != "run" {
		t.Errorf("unexpected args %v", args)
	}

	if _, _, err := parseGlobalFlags([]string{"--set"}); err == nil {
		t.Error("expected error for missing --set value")
	}
	if _, _, err := parseGlobalFlags([]string{"--bogus"}); err == nil {
		t.Error("expected error for unknown flag")
	}
	flags, _, _ = parseGlobalFlags([]string{"-h", "run"})
	if !flags.Help {
		t.Error("expected help")
	}
}

func TestRunScenarioPrintsProgress(t *testing.T) {
	a, stdout, stderr := newTestApp("")
	code := a.execute(context.Background(), memoryArgs(writeFixture(t), "run", "Drama", "--limit", "10"))
	if code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	want := strings.Join([]string{
		"********** genre = Drama iteration = 1 ************",
		"Updated 4 / 4 docs with new cluster.",
		"Updated 2 / 2 docs with new centroid.",
		"********** genre = Drama iteration = 2 ************",
		"Updated 4 / 4 docs with new cluster.",
		"Updated 0 / 2 docs with new centroid.",
	}, "\n") + "\n"
	if stdout.String() != want {
		t.Fatalf("unexpected output:\n%s", stdout.String())
	}
}

func TestRunReadsGenreFromInput(t *testing.T) {
	a, stdout, stderr := newTestApp("  Comedy \n")
	a.interactive = true
	code := a.execute(context.Background(), memoryArgs(writeFixture(t), "run", "--limit", "1"))
	if code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.HasPrefix(out, labelPrompt) {
		t.Fatalf("expected prompt, got %q", out)
	}
	if !strings.Contains(out, "genre = Comedy iteration = 1") {
		t.Fatalf("expected trimmed genre in progress, got %q", out)
	}
}

func TestRunJSONOutput(t *testing.T) {
	a, stdout, stderr := newTestApp("")
	code := a.execute(context.Background(), append([]string{"--json"}, memoryArgs(writeFixture(t), "run", "Drama")...))
	if code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	var out runOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("invalid json %q: %v", stdout.String(), err)
	}
	if out.State != "CONVERGED" || out.Iterations != 2 {
		t.Fatalf("unexpected result %+v", out)
	}
	if len(out.Centroids) != 2 || out.Centroids[0].Coords[1] != 0.5 {
		t.Fatalf("unexpected centroids %+v", out.Centroids)
	}
}

func TestRunBudgetFromFlag(t *testing.T) {
	a, stdout, stderr := newTestApp("")
	code := a.execute(context.Background(), append([]string{"--json"}, memoryArgs(writeFixture(t), "run", "--limit", "1", "Drama")...))
	if code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	var out runOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if out.State != "BUDGET_EXHAUSTED" || out.Iterations != 1 {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestRunUnknownGenreIsConfigurationError(t *testing.T) {
	a, _, stderr := newTestApp("")
	code := a.execute(context.Background(), memoryArgs(writeFixture(t), "run", "Western"))
	if code != exitConfiguration {
		t.Fatalf("expected exit %d, got %d", exitConfiguration, code)
	}
	if !strings.Contains(stderr.String(), "CONFIGURATION_ERROR") {
		t.Fatalf("expected error code in output, got %q", stderr.String())
	}
}

func TestRunRejectsZeroLimit(t *testing.T) {
	a, _, _ := newTestApp("")
	code := a.execute(context.Background(), memoryArgs(writeFixture(t), "run", "Drama", "--limit", "0"))
	if code != exitConfiguration {
		t.Fatalf("expected exit %d, got %d", exitConfiguration, code)
	}
}

func TestCentroidsCommand(t *testing.T) {
	a, stdout, stderr := newTestApp("")
	code := a.execute(context.Background(), memoryArgs(writeFixture(t), "centroids"))
	if code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[2], "[10, 0]") {
		t.Fatalf("unexpected table:\n%s", stdout.String())
	}
}

func TestSeedIntoSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "kluster.db")
	base := []string{"--set", "store.backend=sqlite", "--set", "store.sqlite_path=" + dbPath, "--set", "log.level=error"}

	a, stdout, stderr := newTestApp("")
	code := a.execute(context.Background(), append(append([]string{}, base...), "seed", writeFixture(t)))
	if code != exitOK {
		t.Fatalf("seed failed with %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Seeded 4 points and 2 centroids") {
		t.Fatalf("unexpected seed output %q", stdout.String())
	}

	a, stdout, stderr = newTestApp("")
	code = a.execute(context.Background(), append(append([]string{}, base...), "run", "Drama"))
	if code != exitOK {
		t.Fatalf("run failed with %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Updated 0 / 2 docs with new centroid.") {
		t.Fatalf("expected convergence, got:\n%s", stdout.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	a, _, stderr := newTestApp("")
	code := a.execute(context.Background(), []string{"--set", "store.backend=memory", "explode"})
	if code != exitConfiguration {
		t.Fatalf("expected exit %d, got %d", exitConfiguration, code)
	}
	if !strings.Contains(stderr.String(), "Hint:") {
		t.Fatalf("expected hint, got %q", stderr.String())
	}
}

func TestVersionAndHelp(t *testing.T) {
	a, stdout, _ := newTestApp("")
	if code := a.execute(context.Background(), []string{"version"}); code != exitOK {
		t.Fatalf("unexpected exit %d", code)
	}
	if strings.TrimSpace(stdout.String()) != version {
		t.Fatalf("unexpected version output %q", stdout.String())
	}

	a, stdout, _ = newTestApp("")
	a.execute(context.Background(), nil)
	if !strings.Contains(stdout.String(), "Usage:") {
		t.Fatal("expected usage")
	}
	if !strings.Contains(stdout.String(), "shown only\n") || !strings.Contains(stdout.String(), "when stdin is a terminal") {
		t.Fatalf("expected usage to describe when the genre prompt appears:\n%s", stdout.String())
	}
}
