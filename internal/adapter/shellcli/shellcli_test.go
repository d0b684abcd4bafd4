package shellcli

import (
	"context"
	"testing"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
)

func TestCapabilitiesAllFalse(t *testing.T) {
	a := New("genericcli", "genericcli")
	caps := a.Capabilities()
	if caps.Headless || caps.StructuredOutput || caps.Hooks || caps.SessionResume || caps.Permissions {
		t.Errorf("Capabilities() = %+v, want all false", caps)
	}
}

func TestSpawnInteractiveAppendsMission(t *testing.T) {
	a := New("genericcli", "/usr/bin/genericcli", "--yolo")
	plan, err := a.SpawnInteractive(context.Background(), adapter.StartOpts{
		Mission: "fix the bug",
		Cwd:     "/tmp/proj",
	})
	if err != nil {
		t.Fatalf("SpawnInteractive failed: %v", err)
	}
	if plan.Executable != "/usr/bin/genericcli" {
		t.Errorf("Executable = %q", plan.Executable)
	}
	want := []string{"--yolo", "fix the bug"}
	if len(plan.Argv) != len(want) {
		t.Fatalf("Argv = %v, want %v", plan.Argv, want)
	}
	for i := range want {
		if plan.Argv[i] != want[i] {
			t.Errorf("Argv[%d] = %q, want %q", i, plan.Argv[i], want[i])
		}
	}
	if plan.Cwd != "/tmp/proj" {
		t.Errorf("Cwd = %q", plan.Cwd)
	}
}

func TestSpawnInteractiveNoExecutable(t *testing.T) {
	a := New("broken", "")
	if _, err := a.SpawnInteractive(context.Background(), adapter.StartOpts{}); err == nil {
		t.Error("expected error for empty executable")
	}
}

func TestStartStructuredUnsupported(t *testing.T) {
	a := New("genericcli", "genericcli")
	if _, err := a.StartStructured(context.Background(), adapter.StartOpts{}); err == nil {
		t.Error("expected unsupported error")
	}
}

func TestBuildSummaryInstruction(t *testing.T) {
	a := New("genericcli", "genericcli")
	msg := a.BuildSummaryInstruction("agent-1")
	if msg == "" {
		t.Error("expected non-empty instruction")
	}
}
