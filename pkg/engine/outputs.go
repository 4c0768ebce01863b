package engine

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ModuleOutput is one normalized module output property.
type ModuleOutput struct {
	// Name is the output's name as declared in the module.
	Name string `json:"name"`

	// Value is the output value re-serialized as compact JSON.
	Value string `json:"value"`

	// Type is the output's scalar type name. Collection types report their
	// element type.
	Type string `json:"type"`

	// Sensitive marks values that must be redacted in logs and UIs.
	Sensitive bool `json:"sensitive"`

	// FromExtraFile marks outputs whose content was injected from an extra
	// file rather than declared in module source.
	FromExtraFile bool `json:"from_extra_file"`
}

// OutputSet is the normalized result of one Output call.
type OutputSet struct {
	// Outputs is sorted by name.
	Outputs []ModuleOutput `json:"outputs"`

	// Checksum is the hex SHA-256 of the raw output dump, used upstream to
	// skip redundant uploads. Identical dumps always produce identical
	// checksums.
	Checksum string `json:"checksum"`
}

// rawOutput is the wrapped per-property shape in the output dump.
type rawOutput struct {
	Value     json.RawMessage `json:"value"`
	Type      json.RawMessage `json:"type"`
	Sensitive bool            `json:"sensitive"`
}

// BuildOutputSet parses a raw output dump into a normalized, name-sorted
// output set. Properties are parsed concurrently; a failure on one property
// never stops the others, and all failures come back aggregated in one
// *OutputSetError.
func BuildOutputSet(raw []byte, extraFileOutputs map[string]bool) (*OutputSet, error) {
	var dump map[string]rawOutput
	if err := json.Unmarshal(raw, &dump); err != nil {
		return nil, fmt.Errorf("decoding output dump: %w", err)
	}

	names := make([]string, 0, len(dump))
	for name := range dump {
		names = append(names, name)
	}
	sort.Strings(names)

	outputs := make([]ModuleOutput, len(names))
	var (
		mu       sync.Mutex
		failures map[string]error
	)

	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			out, err := buildOutput(name, dump[name], extraFileOutputs[name])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if failures == nil {
					failures = make(map[string]error)
				}
				failures[name] = err
				return nil
			}
			outputs[i] = out
			return nil
		})
	}
	g.Wait()

	if len(failures) > 0 {
		return nil, &OutputSetError{Failures: failures}
	}

	sum := sha256.Sum256(raw)
	return &OutputSet{
		Outputs:  outputs,
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}

func buildOutput(name string, raw rawOutput, fromExtraFile bool) (ModuleOutput, error) {
	if len(raw.Value) == 0 {
		return ModuleOutput{}, fmt.Errorf("output %q has no value", name)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw.Value); err != nil {
		return ModuleOutput{}, fmt.Errorf("compacting value of %q: %w", name, err)
	}

	typeName, err := scalarTypeName(raw.Type)
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("resolving type of %q: %w", name, err)
	}

	return ModuleOutput{
		Name:          name,
		Value:         compact.String(),
		Type:          typeName,
		Sensitive:     raw.Sensitive,
		FromExtraFile: fromExtraFile,
	}, nil
}

// scalarTypeName resolves the dump's type field, which is either a plain
// string ("string") or a collection form (["list", "string"]). The first
// array element names the collection kind and is what callers care about.
// An absent type defaults to "string".
func scalarTypeName(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "string", nil
	}

	var scalar string
	if err := json.Unmarshal(raw, &scalar); err == nil {
		return scalar, nil
	}

	var composite []json.RawMessage
	if err := json.Unmarshal(raw, &composite); err != nil {
		return "", fmt.Errorf("unrecognized type shape %s", raw)
	}
	if len(composite) == 0 {
		return "", fmt.Errorf("empty composite type")
	}
	if err := json.Unmarshal(composite[0], &scalar); err != nil {
		return "", fmt.Errorf("composite type kind is not a string: %w", err)
	}
	return scalar, nil
}
