package plan

// ResourceChange is one pending change to a managed resource. Address is the
// backend-native resource path or URN; order within an action bucket is the
// parse order from the underlying artifact.
type ResourceChange struct {
	// Address is the backend-native resource address (Terraform address or
	// Pulumi URN).
	Address string `json:"address"`

	// Action is the normalized change type.
	Action Action `json:"action"`
}

// OutputChange is one pending change to a module output value.
type OutputChange struct {
	// Name is the output name.
	Name string `json:"name"`

	// Action is the normalized change type.
	Action Action `json:"action"`
}

// File is the normalized query interface over one parsed plan artifact. A
// File is constructed immediately after the backend writes its artifact, is
// read-only thereafter, and is discarded once a summary has been extracted.
type File interface {
	// ExistingResourceCount reports how many resources already exist
	// according to the backend's prior state, independent of the plan.
	ExistingResourceCount() int

	// ResourceCount reports how many resource changes carry the given
	// normalized action.
	ResourceCount(action Action) int

	// OutputCount reports how many output changes carry the given
	// normalized action. Backends without output-level diffing report 0
	// for every action.
	OutputCount(action Action) int

	// ResourceChanges lists resource changes carrying the given action,
	// in artifact parse order.
	ResourceChanges(action Action) []ResourceChange

	// OutputChanges lists output changes carrying the given action, in
	// artifact parse order.
	OutputChanges(action Action) []OutputChange
}

// Summary is the flattened change summary handed to callers after a plan or
// before an apply/destroy.
type Summary struct {
	// Existing is the number of resources that already exist in state.
	Existing int `json:"existing"`

	// Per-action resource counts.
	Noops    int `json:"noops"`
	Creates  int `json:"creates"`
	Updates  int `json:"updates"`
	Deletes  int `json:"deletes"`
	Replaces int `json:"replaces"`

	// Per-action output counts. Zero for backends without output diffing.
	OutputNoops    int `json:"output_noops"`
	OutputCreates  int `json:"output_creates"`
	OutputUpdates  int `json:"output_updates"`
	OutputDeletes  int `json:"output_deletes"`
	OutputReplaces int `json:"output_replaces"`

	// TotalBefore is the resource count before the plan would be applied:
	// noops + updates + replaces + deletes.
	TotalBefore int `json:"total_before"`

	// TotalAfter is the resource count after the plan would be applied:
	// noops + updates + replaces + creates.
	TotalAfter int `json:"total_after"`

	// ResourceChanges lists every non-noop resource change, grouped by
	// action in canonical order, parse order within each group.
	ResourceChanges []ResourceChange `json:"resource_changes,omitempty"`

	// OutputChanges lists every non-noop output change, grouped likewise.
	OutputChanges []OutputChange `json:"output_changes,omitempty"`
}

// Summarize extracts a Summary from a parsed plan artifact.
func Summarize(f File) *Summary {
	s := &Summary{
		Existing: f.ExistingResourceCount(),

		Noops:    f.ResourceCount(ActionNoop),
		Creates:  f.ResourceCount(ActionCreate),
		Updates:  f.ResourceCount(ActionUpdate),
		Deletes:  f.ResourceCount(ActionDelete),
		Replaces: f.ResourceCount(ActionReplace),

		OutputNoops:    f.OutputCount(ActionNoop),
		OutputCreates:  f.OutputCount(ActionCreate),
		OutputUpdates:  f.OutputCount(ActionUpdate),
		OutputDeletes:  f.OutputCount(ActionDelete),
		OutputReplaces: f.OutputCount(ActionReplace),
	}

	s.TotalBefore = s.Noops + s.Updates + s.Replaces + s.Deletes
	s.TotalAfter = s.Noops + s.Updates + s.Replaces + s.Creates

	for _, action := range Actions {
		if action == ActionNoop {
			continue
		}
		s.ResourceChanges = append(s.ResourceChanges, f.ResourceChanges(action)...)
		s.OutputChanges = append(s.OutputChanges, f.OutputChanges(action)...)
	}

	return s
}

// HasChanges reports whether the summary contains any non-noop resource or
// output change.
func (s *Summary) HasChanges() bool {
	return s.Creates+s.Updates+s.Deletes+s.Replaces+
		s.OutputCreates+s.OutputUpdates+s.OutputDeletes+s.OutputReplaces > 0
}
