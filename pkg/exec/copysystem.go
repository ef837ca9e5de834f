package exec

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/LevitateOS/installer/pkg/action"
)

// rsync flags for the system copy: archive mode plus hardlinks, ACLs and
// xattrs, with machine-readable progress on stdout.
var rsyncArgs = []string{"-aHAX", "--info=progress2"}

// copySystem copies the live system tree straight into the target root.
// rsync merges into whatever already exists there, so partitions mounted
// below the target (the ESP at boot/efi, a separate home) receive their
// files through their mountpoints instead of being replaced. A partial
// tree is a valid prefix of the finished one: an interrupted copy resumes
// by re-running the same invocation.
func (e *Executor) copySystem(ctx context.Context, a action.CopySystem) (*Result, error) {
	if e.DryRun {
		e.Log.WithFields(logrus.Fields{
			"source": a.Source,
			"target": a.Target,
		}).Info("dry-run: skipped system copy")
		return &Result{Action: a.Kind(), Details: copyDetails(a)}, nil
	}

	if err := os.MkdirAll(a.Target, 0o755); err != nil {
		return failed(a.Kind(), FailIO, false, "create target directory %s: %v", a.Target, err), nil
	}

	// Trailing slashes: copy the contents of source into target, not
	// the source directory itself.
	args := append(append([]string{}, rsyncArgs...),
		strings.TrimSuffix(a.Source, "/")+"/",
		strings.TrimSuffix(a.Target, "/")+"/",
	)
	if res := e.runStep(ctx, a.Kind(), step{command: "rsync", args: args}); res != nil {
		// The partial tree stays in place; a retry completes it.
		return res, nil
	}
	return &Result{Action: a.Kind(), Details: copyDetails(a)}, nil
}

func copyDetails(a action.CopySystem) string {
	return fmt.Sprintf("system copied from %s to %s", a.Source, a.Target)
}
