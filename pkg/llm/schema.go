package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	schemavalidate "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/LevitateOS/installer/pkg/action"
	"github.com/LevitateOS/installer/pkg/probe"
)

// wireAction is the flat JSON envelope the model must emit: one object,
// discriminated by "action", with only the fields that kind uses.
type wireAction struct {
	Action string `json:"action" jsonschema:"enum=list_disks,enum=partition,enum=format,enum=mount,enum=copy_system,enum=set_hostname,enum=set_timezone,enum=create_user,enum=set_password,enum=install_bootloader,enum=reboot,enum=help,enum=clarify"`

	Disk   string       `json:"disk,omitempty"`
	Scheme []wireScheme `json:"scheme,omitempty"`

	Partition  string `json:"partition,omitempty"`
	Filesystem string `json:"filesystem,omitempty"`
	Mountpoint string `json:"mountpoint,omitempty"`

	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`

	Name string `json:"name,omitempty"`
	Zone string `json:"zone,omitempty"`
	Sudo bool   `json:"sudo,omitempty"`

	User   string `json:"user,omitempty"`
	Secret string `json:"secret,omitempty"`

	Question string `json:"question,omitempty"`
}

// wireScheme is one partition entry; size is a human string like "512M"
// or "rest".
type wireScheme struct {
	Mountpoint string `json:"mountpoint"`
	Size       string `json:"size"`
	Filesystem string `json:"filesystem"`
}

// buildSchema reflects the wire envelope into a JSON Schema document,
// used both in the prompt and to validate responses.
func buildSchema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	doc := r.Reflect(&wireAction{})
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal action schema: %w", err)
	}
	return data, nil
}

// compileSchema prepares the response validator.
func compileSchema(raw []byte) (*schemavalidate.Schema, error) {
	doc, err := schemavalidate.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse action schema: %w", err)
	}
	c := schemavalidate.NewCompiler()
	if err := c.AddResource("action.json", doc); err != nil {
		return nil, fmt.Errorf("register action schema: %w", err)
	}
	sch, err := c.Compile("action.json")
	if err != nil {
		return nil, fmt.Errorf("compile action schema: %w", err)
	}
	return sch, nil
}

// ActionSchema returns the JSON Schema for the action envelope, for
// front ends that construct actions themselves.
func ActionSchema() ([]byte, error) { return buildSchema() }

// ParseAction decodes a raw wire envelope into a verified action: the
// same schema validation, constructor decoding, and device verification
// a model response gets. Structured front ends hand their JSON here.
func ParseAction(data []byte, snap *probe.Snapshot) (action.Action, error) {
	raw, err := buildSchema()
	if err != nil {
		return nil, err
	}
	sch, err := compileSchema(raw)
	if err != nil {
		return nil, err
	}
	inst, err := schemavalidate.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("action is not JSON: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("action failed schema validation: %w", err)
	}
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	a, err := decodeAction(w)
	if err != nil {
		return nil, err
	}
	return verifyDevices(a, snap), nil
}

// decodeAction turns a schema-valid wire envelope into a typed action
// through the validating constructors. Constructor failures come back
// as *action.SyntaxError.
func decodeAction(w wireAction) (action.Action, error) {
	switch action.Kind(w.Action) {
	case action.KindListDisks:
		return action.ListDisks{}, nil
	case action.KindPartition:
		scheme, err := decodeScheme(w.Scheme)
		if err != nil {
			return nil, err
		}
		return action.NewPartition(w.Disk, scheme)
	case action.KindFormat:
		return action.NewFormat(w.Partition, action.Filesystem(w.Filesystem))
	case action.KindMount:
		return action.NewMount(w.Partition, w.Mountpoint)
	case action.KindCopySystem:
		return action.NewCopySystem(w.Source, w.Target)
	case action.KindSetHostname:
		return action.NewSetHostname(w.Name)
	case action.KindSetTimezone:
		return action.NewSetTimezone(w.Zone)
	case action.KindCreateUser:
		return action.NewCreateUser(w.Name, w.Sudo)
	case action.KindSetPassword:
		return action.NewSetPassword(w.User, w.Secret)
	case action.KindInstallBootloader:
		return action.NewInstallBootloader(w.Target)
	case action.KindReboot:
		return action.Reboot{}, nil
	case action.KindHelp:
		return action.Help{}, nil
	case action.KindClarify:
		return action.NewClarify(w.Question)
	}
	return nil, &action.SyntaxError{Action: action.Kind(w.Action), Field: "action", Reason: "unknown action kind"}
}

func decodeScheme(entries []wireScheme) (action.Scheme, error) {
	out := make([]action.SchemeEntry, 0, len(entries))
	for _, e := range entries {
		size, remaining, err := action.ParseSize(e.Size)
		if err != nil {
			return action.Scheme{}, &action.SyntaxError{Action: action.KindPartition, Field: "scheme.size", Reason: err.Error()}
		}
		out = append(out, action.SchemeEntry{
			Mountpoint: e.Mountpoint,
			Size:       size,
			Remaining:  remaining,
			Filesystem: action.Filesystem(e.Filesystem),
		})
	}
	return action.NewScheme(out)
}
