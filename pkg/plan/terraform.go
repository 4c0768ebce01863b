package plan

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Entry names inside a Terraform-family plan archive. These are fixed by the
// tool and must match exactly.
const (
	archivePlanEntry  = "tfplan"
	archiveStateEntry = "tfstate"
)

// MalformedArtifactError indicates a plan artifact that cannot be trusted:
// a required archive entry is missing or the encoded content does not parse.
// Parsing never silently defaults on these, since a wrong summary would
// misrepresent real infrastructure change counts.
type MalformedArtifactError struct {
	// Path is the artifact file that failed to parse.
	Path string

	// Reason describes what was missing or unparsable.
	Reason string

	// Err is the underlying decode error, if any.
	Err error
}

// Error implements the error interface.
func (e *MalformedArtifactError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed plan artifact %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed plan artifact %s: %s", e.Path, e.Reason)
}

// Unwrap returns the underlying decode error.
func (e *MalformedArtifactError) Unwrap() error {
	return e.Err
}

// Wire layout of the binary plan message carried in the tfplan entry. Field
// numbers follow the tool's plan file encoding; only the fields needed for
// change summaries are decoded, everything else is skipped.
const (
	planFieldResourceChanges = 3 // repeated resource instance change
	planFieldOutputChanges   = 4 // repeated output change

	resourceChangeFieldChange = 9  // embedded change message
	resourceChangeFieldAddr   = 13 // resource address string

	outputChangeFieldName   = 1 // output name string
	outputChangeFieldChange = 2 // embedded change message

	changeFieldAction = 1 // native action enum
)

// terraformFile is the parsed, normalized form of a Terraform-family plan
// archive. All native actions are normalized once at parse time.
type terraformFile struct {
	existing  int
	resources []ResourceChange
	outputs   []OutputChange
}

var _ File = (*terraformFile)(nil)

// OpenTerraformArchive opens and fully parses a Terraform-family plan
// archive: a zip holding a binary-encoded plan message under "tfplan" and a
// JSON prior-state document under "tfstate". Either entry missing is a hard
// parse failure.
func OpenTerraformArchive(path string) (File, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &MalformedArtifactError{Path: path, Reason: "not a zip archive", Err: err}
	}
	defer zr.Close()

	var planEntry, stateEntry *zip.File
	for _, f := range zr.File {
		switch f.Name {
		case archivePlanEntry:
			planEntry = f
		case archiveStateEntry:
			stateEntry = f
		}
	}
	if planEntry == nil {
		return nil, &MalformedArtifactError{Path: path, Reason: "missing " + archivePlanEntry + " entry"}
	}
	if stateEntry == nil {
		return nil, &MalformedArtifactError{Path: path, Reason: "missing " + archiveStateEntry + " entry"}
	}

	planBytes, err := readZipEntry(planEntry)
	if err != nil {
		return nil, &MalformedArtifactError{Path: path, Reason: "reading " + archivePlanEntry, Err: err}
	}
	stateBytes, err := readZipEntry(stateEntry)
	if err != nil {
		return nil, &MalformedArtifactError{Path: path, Reason: "reading " + archiveStateEntry, Err: err}
	}

	f := &terraformFile{}
	if err := f.decodePlan(planBytes); err != nil {
		return nil, &MalformedArtifactError{Path: path, Reason: "decoding " + archivePlanEntry, Err: err}
	}
	existing, err := decodeStateResourceCount(stateBytes)
	if err != nil {
		return nil, &MalformedArtifactError{Path: path, Reason: "decoding " + archiveStateEntry, Err: err}
	}
	f.existing = existing

	return f, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// decodeStateResourceCount counts top-level resources in the JSON prior-state
// document. Only the resources array length matters here.
func decodeStateResourceCount(raw []byte) (int, error) {
	var state struct {
		Resources []json.RawMessage `json:"resources"`
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return 0, err
	}
	return len(state.Resources), nil
}

// decodePlan walks the binary plan message, extracting resource and output
// changes and normalizing each native action exactly once.
func (f *terraformFile) decodePlan(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case planFieldResourceChanges:
			rc, err := decodeResourceChange(v)
			if err != nil {
				return err
			}
			f.resources = append(f.resources, rc)
		case planFieldOutputChanges:
			oc, err := decodeOutputChange(v)
			if err != nil {
				return err
			}
			f.outputs = append(f.outputs, oc)
		}
		return nil
	})
}

func decodeResourceChange(b []byte) (ResourceChange, error) {
	var rc ResourceChange
	rc.Action = ActionNoop
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == resourceChangeFieldAddr && typ == protowire.BytesType:
			rc.Address = string(v)
		case num == resourceChangeFieldChange && typ == protowire.BytesType:
			native, err := decodeChangeAction(v)
			if err != nil {
				return err
			}
			rc.Action = NormalizeTerraform(native)
		}
		return nil
	})
	return rc, err
}

func decodeOutputChange(b []byte) (OutputChange, error) {
	var oc OutputChange
	oc.Action = ActionNoop
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == outputChangeFieldName && typ == protowire.BytesType:
			oc.Name = string(v)
		case num == outputChangeFieldChange && typ == protowire.BytesType:
			native, err := decodeChangeAction(v)
			if err != nil {
				return err
			}
			oc.Action = NormalizeTerraform(native)
		}
		return nil
	})
	return oc, err
}

// decodeChangeAction pulls the native action enum out of an embedded change
// message. A change message without an action field means the zero value,
// no-op.
func decodeChangeAction(b []byte) (TerraformAction, error) {
	action := TerraformNoop
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num == changeFieldAction && typ == protowire.VarintType {
			n, cnt := protowire.ConsumeVarint(v)
			if cnt < 0 {
				return protowire.ParseError(cnt)
			}
			action = TerraformAction(n)
		}
		return nil
	})
	return action, err
}

// walkFields iterates the top-level fields of one wire-format message. Varint
// fields are re-encoded into the callback's value slice so the callback can
// consume them uniformly; other scalar types are skipped.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, protowire.AppendVarint(nil, v)); err != nil {
				return err
			}
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, v); err != nil {
				return err
			}
			b = b[n:]
		case protowire.Fixed32Type:
			_, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		case protowire.Fixed64Type:
			_, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

// ExistingResourceCount implements File.
func (f *terraformFile) ExistingResourceCount() int {
	return f.existing
}

// ResourceCount implements File.
func (f *terraformFile) ResourceCount(action Action) int {
	count := 0
	for _, rc := range f.resources {
		if rc.Action == action {
			count++
		}
	}
	return count
}

// OutputCount implements File.
func (f *terraformFile) OutputCount(action Action) int {
	count := 0
	for _, oc := range f.outputs {
		if oc.Action == action {
			count++
		}
	}
	return count
}

// ResourceChanges implements File.
func (f *terraformFile) ResourceChanges(action Action) []ResourceChange {
	var out []ResourceChange
	for _, rc := range f.resources {
		if rc.Action == action {
			out = append(out, rc)
		}
	}
	return out
}

// OutputChanges implements File.
func (f *terraformFile) OutputChanges(action Action) []OutputChange {
	var out []OutputChange
	for _, oc := range f.outputs {
		if oc.Action == action {
			out = append(out, oc)
		}
	}
	return out
}
