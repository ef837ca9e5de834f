package stage

import (
	"testing"

	"github.com/LevitateOS/installer/pkg/action"
)

// TestInitialGating verifies only DiskConfig and stage-free actions are
// legal at session start.
func TestInitialGating(t *testing.T) {
	m := NewMachine()

	legal := []action.Kind{
		action.KindListDisks, action.KindHelp, action.KindClarify,
		action.KindPartition, action.KindFormat, action.KindMount,
	}
	for _, k := range legal {
		if ok, reason := m.Legal(k); !ok {
			t.Errorf("%s should be legal at start: %s", k, reason)
		}
	}

	blocked := []action.Kind{
		action.KindCopySystem, action.KindSetHostname, action.KindCreateUser,
		action.KindSetPassword, action.KindInstallBootloader, action.KindReboot,
	}
	for _, k := range blocked {
		if ok, _ := m.Legal(k); ok {
			t.Errorf("%s should be gated at start", k)
		}
	}
}

// TestAdvanceOrder walks the happy path through every stage.
func TestAdvanceOrder(t *testing.T) {
	m := NewMachine()

	steps := []struct {
		complete Stage
		next     Stage
	}{
		{DiskConfig, SystemInstall},
		{SystemInstall, SysConfig},
		{SysConfig, UserSetup},
		{UserSetup, Bootloader},
		{Bootloader, Finalize},
		{Finalize, Done},
	}
	for _, s := range steps {
		m.Complete(s.complete)
		if m.Current() != s.next {
			t.Fatalf("after completing %s, current = %s, want %s", s.complete, m.Current(), s.next)
		}
	}
	if !m.IsDone() {
		t.Error("IsDone() = false after all stages complete")
	}
}

// TestEarlierStageStaysLegal checks completed stages can be revisited:
// re-running SetHostname after UserSetup began is allowed.
func TestEarlierStageStaysLegal(t *testing.T) {
	m := NewMachine()
	m.Complete(DiskConfig)
	m.Complete(SystemInstall)
	m.Complete(SysConfig)

	if m.Current() != UserSetup {
		t.Fatalf("current = %s, want %s", m.Current(), UserSetup)
	}
	if ok, reason := m.Legal(action.KindSetHostname); !ok {
		t.Errorf("SetHostname should stay legal after SysConfig completes: %s", reason)
	}
	if ok, reason := m.Legal(action.KindPartition); !ok {
		t.Errorf("Partition should stay legal after DiskConfig completes: %s", reason)
	}
	if ok, _ := m.Legal(action.KindInstallBootloader); ok {
		t.Error("InstallBootloader should still be gated at UserSetup")
	}
}

// TestDoneIsTerminal verifies only Reboot and Help survive Done.
func TestDoneIsTerminal(t *testing.T) {
	m := NewMachine()
	for _, s := range All() {
		m.Complete(s)
	}
	if !m.IsDone() {
		t.Fatal("machine should be Done")
	}

	if ok, _ := m.Legal(action.KindReboot); !ok {
		t.Error("Reboot must stay legal after Done")
	}
	if ok, _ := m.Legal(action.KindHelp); !ok {
		t.Error("Help must stay legal after Done")
	}
	for _, k := range []action.Kind{action.KindPartition, action.KindListDisks, action.KindSetHostname, action.KindClarify} {
		if ok, _ := m.Legal(k); ok {
			t.Errorf("%s should be illegal after Done", k)
		}
	}
}

// TestCompletionMonotonic re-completing a stage never regresses state.
func TestCompletionMonotonic(t *testing.T) {
	m := NewMachine()
	m.Complete(DiskConfig)
	m.Complete(SystemInstall)
	m.Complete(DiskConfig) // re-run of an earlier stage's action
	if m.Current() != SysConfig {
		t.Errorf("current = %s, want %s", m.Current(), SysConfig)
	}
	if got := len(m.CompletedStages()); got != 2 {
		t.Errorf("completed = %d stages, want 2", got)
	}
}

// TestCompletes maps advancing actions to their stages.
func TestCompletes(t *testing.T) {
	if s, ok := Completes(action.KindPartition); !ok || s != DiskConfig {
		t.Errorf("Completes(Partition) = %v, %v", s, ok)
	}
	if _, ok := Completes(action.KindFormat); ok {
		t.Error("Format alone must not complete a stage")
	}
	if _, ok := Completes(action.KindListDisks); ok {
		t.Error("ListDisks must not complete a stage")
	}
}
