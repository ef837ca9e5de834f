package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LevitateOS/installer/pkg/action"
	"github.com/LevitateOS/installer/pkg/probe"
)

func testSnapshot() *probe.Snapshot {
	return &probe.Snapshot{Disks: []probe.Disk{
		{
			Path: "/dev/nvme0n1", Capacity: 500 * action.GiB,
			Partitions: []probe.Partition{
				{Path: "/dev/nvme0n1p1", Size: 512 * action.MiB, Fstype: "vfat"},
				{Path: "/dev/nvme0n1p2", Size: 499 * action.GiB, Fstype: "ext4"},
			},
		},
		{Path: "/dev/sda", Capacity: 1000 * action.GiB},
	}}
}

// modelServer returns an httptest server that answers every chat
// completion with the given content string.
func modelServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient(endpoint, "test-model", nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// TestTranslateDecodesAction: a well-formed model reply becomes a typed
// action through the constructors.
func TestTranslateDecodesAction(t *testing.T) {
	srv := modelServer(t, `{"action": "format", "partition": "/dev/nvme0n1p2", "filesystem": "ext4"}`)
	defer srv.Close()

	a, err := newTestClient(t, srv.URL).Translate(context.Background(), "format the root partition", testSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	format, ok := a.(action.Format)
	if !ok {
		t.Fatalf("action = %T", a)
	}
	if format.Partition != "/dev/nvme0n1p2" || format.Filesystem != action.FSExt4 {
		t.Errorf("format = %+v", format)
	}
}

// TestTranslatePartitionScheme: human-readable sizes in the wire scheme
// parse into bytes and remaining-space.
func TestTranslatePartitionScheme(t *testing.T) {
	srv := modelServer(t, `{"action": "partition", "disk": "/dev/sda", "scheme": [
	  {"mountpoint": "/boot/efi", "size": "512M", "filesystem": "vfat"},
	  {"mountpoint": "swap", "size": "8G", "filesystem": "swap"},
	  {"mountpoint": "/", "size": "rest", "filesystem": "ext4"}
	]}`)
	defer srv.Close()

	a, err := newTestClient(t, srv.URL).Translate(context.Background(), "wipe sda", testSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	part, ok := a.(action.Partition)
	if !ok {
		t.Fatalf("action = %T", a)
	}
	entries := part.Scheme.Entries
	if len(entries) != 3 {
		t.Fatalf("entries = %v", entries)
	}
	if entries[0].Size != 512*action.MiB {
		t.Errorf("boot size = %d", entries[0].Size)
	}
	if entries[1].Size != 8*action.GiB {
		t.Errorf("swap size = %d", entries[1].Size)
	}
	if !entries[2].Remaining {
		t.Error("root entry should take remaining space")
	}
}

// TestCopySystemDefaultsSource: a copy_system reply without a source
// gets the configured live tree, and the prompt names that tree.
func TestCopySystemDefaultsSource(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 {
			prompt = req.Messages[0].Content
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": `{"action": "copy_system", "target": "/mnt"}`}},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.SourceRoot = "/run/rootfs"

	a, err := c.Translate(context.Background(), "install the system", testSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	cp, ok := a.(action.CopySystem)
	if !ok {
		t.Fatalf("action = %T", a)
	}
	if cp.Source != "/run/rootfs" {
		t.Errorf("source = %q, want the configured live tree", cp.Source)
	}
	if !strings.Contains(prompt, "/run/rootfs") {
		t.Error("prompt should name the live system tree")
	}
}

// TestSchemaRejectsGarbage: output that fails the schema is an error,
// never a guessed action.
func TestSchemaRejectsGarbage(t *testing.T) {
	for _, content := range []string{
		`{"foo": 1}`,
		`{"action": "mkfs_everything"}`,
		`not json at all`,
	} {
		srv := modelServer(t, content)
		_, err := newTestClient(t, srv.URL).Translate(context.Background(), "do something", testSnapshot())
		srv.Close()
		if err == nil {
			t.Errorf("content %q should fail", content)
		}
	}
}

// TestSyntaxErrorFromConstructor: schema-valid but semantically broken
// fields surface the typed syntax error.
func TestSyntaxErrorFromConstructor(t *testing.T) {
	srv := modelServer(t, `{"action": "format", "partition": "nvme0n1p2", "filesystem": "ext4"}`)
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Translate(context.Background(), "format it", testSnapshot())
	var serr *action.SyntaxError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *action.SyntaxError", err)
	}
	if serr.Field != "partition" {
		t.Errorf("field = %q", serr.Field)
	}
}

// TestHallucinatedDeviceBecomesClarify: unknown /dev paths never reach
// validation; pseudo-devices pass.
func TestHallucinatedDeviceBecomesClarify(t *testing.T) {
	snap := testSnapshot()

	format, _ := action.NewFormat("/dev/sdz1", action.FSExt4)
	if _, ok := verifyDevices(format, snap).(action.Clarify); !ok {
		t.Error("unknown device should become a clarify")
	}

	known, _ := action.NewFormat("/dev/nvme0n1p2", action.FSExt4)
	if _, ok := verifyDevices(known, snap).(action.Format); !ok {
		t.Error("known device should pass through")
	}

	pseudo, _ := action.NewMount("/dev/null", "/mnt")
	if _, ok := verifyDevices(pseudo, snap).(action.Mount); !ok {
		t.Error("pseudo-device should pass through")
	}

	host, _ := action.NewSetHostname("box")
	if _, ok := verifyDevices(host, snap).(action.SetHostname); !ok {
		t.Error("device-free action should pass through")
	}
}

// TestTimeoutSynthesizesClarify: a slow model degrades to a question,
// not an error.
func TestTimeoutSynthesizesClarify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.Timeout = 50 * time.Millisecond

	a, err := c.Translate(context.Background(), "wipe everything", testSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := a.(action.Clarify); !ok {
		t.Fatalf("action = %T, want Clarify", a)
	}
}

func TestExtractJSON(t *testing.T) {
	for in, want := range map[string]string{
		"{\"a\":1}":               `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
	} {
		if got := extractJSON(in); got != want {
			t.Errorf("extractJSON(%q) = %q, want %q", in, got, want)
		}
	}
}
