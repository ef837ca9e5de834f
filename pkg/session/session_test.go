package session

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LevitateOS/installer/pkg/action"
	"github.com/LevitateOS/installer/pkg/exec"
	"github.com/LevitateOS/installer/pkg/plan"
	"github.com/LevitateOS/installer/pkg/policy"
	"github.com/LevitateOS/installer/pkg/probe"
	"github.com/LevitateOS/installer/pkg/run"
	"github.com/LevitateOS/installer/pkg/stage"
)

const lsblkFixture = `{
  "blockdevices": [
    {"name": "nvme0n1", "path": "/dev/nvme0n1", "size": 536870912000, "type": "disk",
     "children": [
       {"name": "nvme0n1p1", "path": "/dev/nvme0n1p1", "size": 536870912, "type": "part", "fstype": "vfat", "mountpoint": "/boot/efi"},
       {"name": "nvme0n1p2", "path": "/dev/nvme0n1p2", "size": 535822336000, "type": "part", "fstype": "ext4"}
     ]},
    {"name": "sda", "path": "/dev/sda", "size": 1073741824000, "type": "disk"}
  ]
}`

type fakeRunner struct {
	lsblk []byte
	fail  map[string]int
	calls map[string]int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{lsblk: []byte(lsblkFixture), fail: make(map[string]int), calls: make(map[string]int)}
}

func (f *fakeRunner) Run(_ context.Context, command string, _ ...string) (*run.Result, error) {
	f.calls[command]++
	if command == "lsblk" {
		return &run.Result{Stdout: f.lsblk}, nil
	}
	if code, ok := f.fail[command]; ok {
		return &run.Result{ExitCode: code, Stderr: []byte("scripted failure")}, nil
	}
	return &run.Result{}, nil
}

type fakeTranslator struct {
	next action.Action
	err  error
}

func (f *fakeTranslator) Translate(context.Context, string, *probe.Snapshot) (action.Action, error) {
	return f.next, f.err
}

func newTestSession(t *testing.T, fr *fakeRunner, tr *fakeTranslator) *Session {
	t.Helper()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	entry := logrus.NewEntry(log)

	prober := &probe.Prober{Runner: fr, Root: t.TempDir()}
	ex := exec.New(fr, prober, policy.Default(), entry)
	ex.TargetRoot = t.TempDir()

	s, err := New(context.Background(), Config{
		StateDir:   t.TempDir(),
		Translator: tr,
		Executor:   ex,
		Prober:     prober,
		Log:        entry,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func partitionAction(t *testing.T) action.Partition {
	t.Helper()
	scheme, err := action.NewScheme([]action.SchemeEntry{
		{Mountpoint: "/", Remaining: true, Filesystem: action.FSExt4},
	})
	if err != nil {
		t.Fatal(err)
	}
	part, err := action.NewPartition("/dev/sda", scheme)
	if err != nil {
		t.Fatal(err)
	}
	return part
}

// TestReadyExecutesImmediately: a non-destructive action runs in the
// same turn and the result comes back with the plan.
func TestReadyExecutesImmediately(t *testing.T) {
	tr := &fakeTranslator{next: action.ListDisks{}}
	s := newTestSession(t, newFakeRunner(), tr)

	turn, err := s.SubmitIntent(context.Background(), "what disks do I have?")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Plan.Variant != plan.Ready {
		t.Fatalf("variant = %s", turn.Plan.Variant)
	}
	if turn.Result == nil || !turn.Result.Succeeded() {
		t.Fatalf("result = %+v", turn.Result)
	}
	if turn.Result.Details == "" {
		t.Error("list_disks should carry the disk listing")
	}
}

// TestConfirmFlow: destructive plan parks pending, executes on an
// accepted confirmation, completes the stage, and refreshes the snapshot.
func TestConfirmFlow(t *testing.T) {
	fr := newFakeRunner()
	tr := &fakeTranslator{next: partitionAction(t)}
	s := newTestSession(t, fr, tr)

	turn, err := s.SubmitIntent(context.Background(), "wipe the sata disk")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Plan.Variant != plan.NeedsConfirmation {
		t.Fatalf("variant = %s", turn.Plan.Variant)
	}
	if turn.Result != nil {
		t.Fatal("destructive action must not run before confirmation")
	}
	if _, ok := s.Pending(); !ok {
		t.Fatal("plan should be pending")
	}

	probesBefore := fr.calls["lsblk"]
	turn, err = s.Confirm(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Result == nil || !turn.Result.Succeeded() {
		t.Fatalf("result = %+v", turn.Result)
	}
	if fr.calls["sgdisk"] == 0 {
		t.Error("sgdisk never ran")
	}
	if s.Stage() != stage.SystemInstall {
		t.Errorf("stage = %s, want %s", s.Stage(), stage.SystemInstall)
	}
	if fr.calls["lsblk"] <= probesBefore {
		t.Error("session should re-probe after a destructive success")
	}
	if _, ok := s.Pending(); ok {
		t.Error("pending plan should be cleared")
	}
}

// TestDeclineDiscards: a declined plan never executes and the session
// simply awaits new intent.
func TestDeclineDiscards(t *testing.T) {
	fr := newFakeRunner()
	tr := &fakeTranslator{next: partitionAction(t)}
	s := newTestSession(t, fr, tr)

	if _, err := s.SubmitIntent(context.Background(), "wipe the sata disk"); err != nil {
		t.Fatal(err)
	}
	turn, err := s.Confirm(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Result != nil {
		t.Fatal("declined plan must not execute")
	}
	if fr.calls["sgdisk"] != 0 {
		t.Error("sgdisk ran after a decline")
	}
	if s.Stage() != stage.DiskConfig {
		t.Errorf("stage = %s", s.Stage())
	}
	if _, err := s.Confirm(context.Background(), true); err == nil {
		t.Error("second confirm should fail; nothing is pending")
	}
}

// TestAffirmative: only exact tokens confirm.
func TestAffirmative(t *testing.T) {
	for text, want := range map[string]bool{
		"yes": true, "y": true, "YES": true, " yes ": true,
		"yes please": false, "sure": false, "ok": false, "": false, "no": false,
	} {
		if got := Affirmative(text); got != want {
			t.Errorf("Affirmative(%q) = %v, want %v", text, got, want)
		}
	}
}

// TestRetryRecoverable: a recoverable failure is retried up to two more
// times with the same plan.
func TestRetryRecoverable(t *testing.T) {
	fr := newFakeRunner()
	fr.fail["mount"] = 32
	mnt, _ := action.NewMount("/dev/nvme0n1p2", "/mnt")
	tr := &fakeTranslator{next: mnt}
	s := newTestSession(t, fr, tr)

	turn, err := s.SubmitIntent(context.Background(), "mount the root partition")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Result == nil || turn.Result.Succeeded() {
		t.Fatalf("result = %+v", turn.Result)
	}
	if !turn.Result.Failure.Recoverable {
		t.Error("mount failure should classify recoverable")
	}
	if fr.calls["mount"] != 3 {
		t.Errorf("mount ran %d times, want 3", fr.calls["mount"])
	}
}

// ctxCheckRunner refuses commands arriving with a dead context, the way
// os/exec would.
type ctxCheckRunner struct{ *fakeRunner }

func (c ctxCheckRunner) Run(ctx context.Context, command string, args ...string) (*run.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.fakeRunner.Run(ctx, command, args...)
}

// TestExecuteSurvivesCancelledCaller: once a plan is executing, a
// cancelled front-end context must not interrupt its commands.
func TestExecuteSurvivesCancelledCaller(t *testing.T) {
	fr := newFakeRunner()
	mnt, _ := action.NewMount("/dev/nvme0n1p2", "/mnt")
	tr := &fakeTranslator{next: mnt}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	entry := logrus.NewEntry(log)

	cr := ctxCheckRunner{fr}
	prober := &probe.Prober{Runner: cr, Root: t.TempDir()}
	ex := exec.New(cr, prober, policy.Default(), entry)
	ex.TargetRoot = t.TempDir()

	s, err := New(context.Background(), Config{
		StateDir:   t.TempDir(),
		Translator: tr,
		Executor:   ex,
		Prober:     prober,
		Log:        entry,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	turn, err := s.SubmitIntent(ctx, "mount the root partition")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Result == nil || !turn.Result.Succeeded() {
		t.Fatalf("result = %+v", turn.Result)
	}
	if fr.calls["mount"] == 0 {
		t.Error("mount never ran")
	}
}

// TestRejectedAndClarifyPassThrough: neither touches the executor.
func TestRejectedAndClarifyPassThrough(t *testing.T) {
	fr := newFakeRunner()
	user, _ := action.NewCreateUser("vince", true)
	tr := &fakeTranslator{next: user}
	s := newTestSession(t, fr, tr)

	turn, err := s.SubmitIntent(context.Background(), "make me an account")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Plan.Variant != plan.Rejected || turn.Plan.Reason != plan.ReasonStageOrder {
		t.Fatalf("plan = %+v", turn.Plan)
	}

	c, _ := action.NewClarify("Which disk did you mean?")
	tr.next = c
	turn, err = s.SubmitIntent(context.Background(), "wipe the disk")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Plan.Variant != plan.Clarify || turn.Plan.Question == "" {
		t.Fatalf("plan = %+v", turn.Plan)
	}
	if fr.calls["useradd"] != 0 || fr.calls["chroot"] != 0 {
		t.Error("rejected/clarify turns must not execute")
	}
}

// TestActionLog: every turn leaves durable JSONL records with the right
// event sequence.
func TestActionLog(t *testing.T) {
	fr := newFakeRunner()
	tr := &fakeTranslator{next: partitionAction(t)}
	s := newTestSession(t, fr, tr)

	ctx := context.Background()
	if _, err := s.SubmitIntent(ctx, "wipe the sata disk"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Confirm(ctx, false); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(s.Dir(), "actions.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var events []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad record %q: %v", sc.Text(), err)
		}
		events = append(events, r.Event)
	}
	if sc.Err() != nil {
		t.Fatal(sc.Err())
	}

	want := []string{eventPlanned, eventDeclined}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, events[i], want[i])
		}
	}
}

// TestCheckpointRoundTrip exercises the sqlite store end to end.
func TestCheckpointRoundTrip(t *testing.T) {
	cp, err := OpenCheckpoint(filepath.Join(t.TempDir(), "checkpoint.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cp.Close()

	if err := cp.BeginSession("01TEST", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := cp.RecordStage("01TEST", stage.DiskConfig); err != nil {
		t.Fatal(err)
	}
	if err := cp.RecordStage("01TEST", stage.SystemInstall); err != nil {
		t.Fatal(err)
	}
	if err := cp.RecordAction("01TEST", 1, action.KindPartition, true); err != nil {
		t.Fatal(err)
	}

	stages, err := cp.CompletedStages("01TEST")
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 2 || stages[0] != stage.DiskConfig || stages[1] != stage.SystemInstall {
		t.Errorf("stages = %v", stages)
	}

	ids, err := cp.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "01TEST" {
		t.Errorf("sessions = %v", ids)
	}
}
