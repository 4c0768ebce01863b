package plan

import (
	"encoding/json"
	"os"
	"sort"
)

// rootStackType is the synthetic resource type Pulumi reports for the stack
// itself. It is not a real managed resource and is excluded from all counts.
const rootStackType = "pulumi:pulumi:Stack"

// pulumiFile is the parsed, normalized form of a Pulumi plan or preview
// document. Pulumi artifacts carry no output-level diff, so every output
// query uniformly reports zero; this capability gap is deliberate and must
// not be faked.
type pulumiFile struct {
	existing  int
	resources []ResourceChange
}

var _ File = (*pulumiFile)(nil)

// pulumiChangeSummary is the backend's own reconciliation count. When
// present it is authoritative for the "already exists" count; re-deriving it
// from the steps is only a fallback.
type pulumiChangeSummary struct {
	Same    int `json:"same"`
	Create  int `json:"create"`
	Update  int `json:"update"`
	Delete  int `json:"delete"`
	Replace int `json:"replace"`
}

// OpenPulumiPlan opens a plan file as written by the backend's save-plan
// command at apply time: a resourcePlans map keyed by URN, each entry
// carrying a goal type and an ordered steps array of op strings.
func OpenPulumiPlan(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &MalformedArtifactError{Path: path, Reason: "reading plan file", Err: err}
	}

	var doc struct {
		ResourcePlans map[string]struct {
			Goal struct {
				Type string `json:"type"`
			} `json:"goal"`
			Steps []string `json:"steps"`
		} `json:"resourcePlans"`
		ChangeSummary *pulumiChangeSummary `json:"changeSummary"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &MalformedArtifactError{Path: path, Reason: "decoding plan JSON", Err: err}
	}

	// JSON object keys carry no document order, so URN order stands in for
	// parse order to keep summaries deterministic.
	urns := make([]string, 0, len(doc.ResourcePlans))
	for urn := range doc.ResourcePlans {
		urns = append(urns, urn)
	}
	sort.Strings(urns)

	f := &pulumiFile{}
	for _, urn := range urns {
		rp := doc.ResourcePlans[urn]
		if rp.Goal.Type == rootStackType {
			continue
		}
		f.resources = append(f.resources, ResourceChange{
			Address: urn,
			Action:  normalizePulumiSteps(rp.Steps),
		})
	}
	f.existing = deriveExistingCount(doc.ChangeSummary, f.resources)

	return f, nil
}

// OpenPulumiPreview opens a preview document as produced at destroy time: a
// top-level steps array, each step carrying an op, a URN, and the resource
// type either inline or under newState.
func OpenPulumiPreview(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &MalformedArtifactError{Path: path, Reason: "reading preview file", Err: err}
	}

	var doc struct {
		Steps []struct {
			Op       string `json:"op"`
			URN      string `json:"urn"`
			Type     string `json:"type"`
			NewState struct {
				Type string `json:"type"`
			} `json:"newState"`
		} `json:"steps"`
		ChangeSummary *pulumiChangeSummary `json:"changeSummary"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &MalformedArtifactError{Path: path, Reason: "decoding preview JSON", Err: err}
	}

	f := &pulumiFile{}
	for _, step := range doc.Steps {
		typ := step.Type
		if typ == "" {
			typ = step.NewState.Type
		}
		if typ == rootStackType {
			continue
		}
		f.resources = append(f.resources, ResourceChange{
			Address: step.URN,
			Action:  NormalizePulumi(step.Op),
		})
	}
	f.existing = deriveExistingCount(doc.ChangeSummary, f.resources)

	return f, nil
}

// normalizePulumiSteps collapses a resource plan's step ops into one
// canonical action. Any replace-family step wins, otherwise the first step
// decides; an empty steps array means no change.
func normalizePulumiSteps(steps []string) Action {
	if len(steps) == 0 {
		return ActionNoop
	}
	for _, op := range steps {
		if NormalizePulumi(op) == ActionReplace {
			return ActionReplace
		}
	}
	return NormalizePulumi(steps[0])
}

// deriveExistingCount prefers the backend's own changeSummary when present;
// otherwise the non-create changes stand in for resources that already
// exist.
func deriveExistingCount(cs *pulumiChangeSummary, resources []ResourceChange) int {
	if cs != nil {
		return cs.Same + cs.Update + cs.Delete + cs.Replace
	}
	count := 0
	for _, rc := range resources {
		if rc.Action != ActionCreate {
			count++
		}
	}
	return count
}

// ExistingResourceCount implements File.
func (f *pulumiFile) ExistingResourceCount() int {
	return f.existing
}

// ResourceCount implements File.
func (f *pulumiFile) ResourceCount(action Action) int {
	count := 0
	for _, rc := range f.resources {
		if rc.Action == action {
			count++
		}
	}
	return count
}

// OutputCount implements File. Pulumi artifacts do not expose output-level
// diffing, so this is uniformly zero.
func (f *pulumiFile) OutputCount(Action) int {
	return 0
}

// ResourceChanges implements File.
func (f *pulumiFile) ResourceChanges(action Action) []ResourceChange {
	var out []ResourceChange
	for _, rc := range f.resources {
		if rc.Action == action {
			out = append(out, rc)
		}
	}
	return out
}

// OutputChanges implements File. Always empty for Pulumi.
func (f *pulumiFile) OutputChanges(Action) []OutputChange {
	return nil
}
