package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/LevitateOS/installer/pkg/action"
	"github.com/LevitateOS/installer/pkg/exec"
	"github.com/LevitateOS/installer/pkg/plan"
)

// Action log events, one per record.
const (
	eventPlanned  = "planned"
	eventExecuted = "executed"
	eventFailed   = "failed"
	eventDeclined = "declined"
	eventError    = "error"
)

// record is one line of actions.jsonl. The action is recorded by its
// description, never its raw fields, so secrets stay out of the log.
type record struct {
	Turn   int          `json:"turn"`
	Time   time.Time    `json:"time"`
	Event  string       `json:"event"`
	Kind   action.Kind  `json:"kind,omitempty"`
	Action string       `json:"action,omitempty"`
	Plan   *plan.Plan   `json:"plan,omitempty"`
	Result *exec.Result `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// actionLog is the append-only JSONL trail of everything the engine
// planned and did. Each record is flushed and fsynced before append
// returns: if the machine dies mid-install, the log still says what ran.
type actionLog struct {
	mu  sync.Mutex
	f   *os.File
	w   *bufio.Writer
	enc *json.Encoder
}

func openActionLog(path string) (*actionLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open action log: %w", err)
	}
	w := bufio.NewWriter(f)
	return &actionLog{f: f, w: w, enc: json.NewEncoder(w)}, nil
}

func (l *actionLog) append(r record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(r); err != nil {
		return fmt.Errorf("encode action record: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush action log: %w", err)
	}
	return l.f.Sync()
}

func (l *actionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.f.Close()
}
