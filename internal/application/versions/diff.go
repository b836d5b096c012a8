package versions

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/aescanero/conduit/pkg/domain"
)

// StageChangeKind classifies a per-stage difference.
type StageChangeKind string

const (
	StageAdded    StageChangeKind = "ADDED"
	StageRemoved  StageChangeKind = "REMOVED"
	StageModified StageChangeKind = "MODIFIED"
)

// StageChange describes how one stage differs between two versions.
type StageChange struct {
	StageID string          `json:"stage_id"`
	Change  StageChangeKind `json:"change"`
	Before  *domain.Stage   `json:"before,omitempty"`
	After   *domain.Stage   `json:"after,omitempty"`
}

// SpecDiff is the structured difference between two version specs.
type SpecDiff struct {
	FromVersionID string        `json:"from_version_id"`
	ToVersionID   string        `json:"to_version_id"`
	ChangedFields []string      `json:"changed_fields"`
	StageChanges  []StageChange `json:"stage_changes"`
}

// Diff compares two versions of the same pipeline.
func (s *Service) Diff(ctx context.Context, pipelineID, fromID, toID string) (*SpecDiff, error) {
	from, err := s.store.GetVersion(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.store.GetVersion(ctx, toID)
	if err != nil {
		return nil, err
	}
	if from.PipelineID != pipelineID || to.PipelineID != pipelineID {
		return nil, fmt.Errorf("%w: both versions must belong to pipeline %s", domain.ErrVersionNotFound, pipelineID)
	}

	d, err := DiffSpecs(from.Spec, to.Spec)
	if err != nil {
		return nil, err
	}
	d.FromVersionID = fromID
	d.ToVersionID = toID
	return d, nil
}

// DiffSpecs lists every changed field path (dotted keys, [i] for list
// positions) and classifies stages by stage id.
func DiffSpecs(before, after domain.PipelineSpec) (*SpecDiff, error) {
	oldFlat, err := flattenSpec(before)
	if err != nil {
		return nil, err
	}
	newFlat, err := flattenSpec(after)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, len(oldFlat)+len(newFlat))
	for k := range oldFlat {
		keys[k] = struct{}{}
	}
	for k := range newFlat {
		keys[k] = struct{}{}
	}

	d := &SpecDiff{ChangedFields: []string{}, StageChanges: []StageChange{}}
	for k := range keys {
		oldVal, inOld := oldFlat[k]
		newVal, inNew := newFlat[k]
		if inOld != inNew || !reflect.DeepEqual(oldVal, newVal) {
			d.ChangedFields = append(d.ChangedFields, k)
		}
	}
	sort.Strings(d.ChangedFields)

	oldStages := stagesByID(before.Stages)
	newStages := stagesByID(after.Stages)
	ids := make([]string, 0, len(oldStages)+len(newStages))
	for id := range oldStages {
		ids = append(ids, id)
	}
	for id := range newStages {
		if _, ok := oldStages[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		o, inOld := oldStages[id]
		n, inNew := newStages[id]
		switch {
		case !inOld:
			d.StageChanges = append(d.StageChanges, StageChange{StageID: id, Change: StageAdded, After: n})
		case !inNew:
			d.StageChanges = append(d.StageChanges, StageChange{StageID: id, Change: StageRemoved, Before: o})
		case !reflect.DeepEqual(o, n):
			d.StageChanges = append(d.StageChanges, StageChange{StageID: id, Change: StageModified, Before: o, After: n})
		}
	}

	return d, nil
}

func stagesByID(stages []domain.Stage) map[string]*domain.Stage {
	out := make(map[string]*domain.Stage, len(stages))
	for i := range stages {
		out[stages[i].StageID] = &stages[i]
	}
	return out
}

func flattenSpec(spec domain.PipelineSpec) (map[string]any, error) {
	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode spec: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode spec: %w", err)
	}
	out := make(map[string]any)
	flatten(doc, "", out)
	return out, nil
}

func flatten(v any, prefix string, out map[string]any) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 && prefix != "" {
			out[prefix] = map[string]any{}
		}
		for k, child := range t {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(child, key, out)
		}
	case []any:
		if len(t) == 0 {
			out[prefix] = []any{}
		}
		for i, child := range t {
			flatten(child, prefix+"["+strconv.Itoa(i)+"]", out)
		}
	default:
		out[prefix] = t
	}
}
