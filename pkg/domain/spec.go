package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Resources describes what a stage asks from the execution runtime.
type Resources struct {
	CPUs     float64 `json:"cpus" yaml:"cpus" validate:"gte=0"`
	GPUs     float64 `json:"gpus" yaml:"gpus" validate:"gte=0"`
	MemoryMB int     `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty" validate:"gte=0"`
}

// Stage is one processing step of a pipeline. Stages are immutable once
// embedded in a published version.
type Stage struct {
	StageID         string         `json:"stage_id" yaml:"stage_id" validate:"required,max=128"`
	Name            string         `json:"name" yaml:"name" validate:"required,max=255"`
	ExecutorRef     string         `json:"executor_ref" yaml:"executor_ref" validate:"required"`
	Resources       Resources      `json:"resources" yaml:"resources"`
	BatchSize       int            `json:"batch_size" yaml:"batch_size" validate:"gte=1"`
	ConcurrencyHint int            `json:"concurrency_hint" yaml:"concurrency_hint" validate:"gte=1"`
	Retries         int            `json:"retries" yaml:"retries" validate:"gte=0"`
	Params          map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Edge connects two stages by id.
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// SourceConfig describes where a run's input records come from.
type SourceConfig struct {
	Kind       string `json:"kind" yaml:"kind" validate:"omitempty,oneof=inline queue dataset_uri"`
	StaticData []any  `json:"static_data,omitempty" yaml:"static_data,omitempty"`
	URI        string `json:"uri,omitempty" yaml:"uri,omitempty"`
}

// SinkConfig describes where a run's output records go.
type SinkConfig struct {
	Kind string `json:"kind" yaml:"kind" validate:"omitempty,oneof=none queue artifact_uri"`
	URI  string `json:"uri,omitempty" yaml:"uri,omitempty" validate:"required_if=Kind artifact_uri"`
}

// IOConfig groups the source and sink of a pipeline.
type IOConfig struct {
	Source SourceConfig `json:"source" yaml:"source"`
	Sink   SinkConfig   `json:"sink" yaml:"sink"`
}

// RuntimeConfig is passed through to the execution runtime untouched.
type RuntimeConfig struct {
	Address     string         `json:"address,omitempty" yaml:"address,omitempty"`
	Autoscaling map[string]any `json:"autoscaling,omitempty" yaml:"autoscaling,omitempty"`
	RetryPolicy map[string]any `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
}

// ObservabilityConfig controls per-pipeline telemetry.
type ObservabilityConfig struct {
	LogLevel       string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=DEBUG INFO WARN ERROR"`
	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled"`
	TracingEnabled bool   `json:"tracing_enabled" yaml:"tracing_enabled"`
}

// PipelineSpec is the full authored pipeline document. A spec is owned by
// exactly one PipelineVersion.
type PipelineSpec struct {
	Name          string              `json:"name" yaml:"name" validate:"required,max=255"`
	Description   string              `json:"description,omitempty" yaml:"description,omitempty"`
	ExecutionMode string              `json:"execution_mode,omitempty" yaml:"execution_mode,omitempty" validate:"omitempty,oneof=streaming batch serving"`
	Tags          []string            `json:"tags,omitempty" yaml:"tags,omitempty"`
	Stages        []Stage             `json:"stages" yaml:"stages" validate:"dive"`
	Edges         []Edge              `json:"edges" yaml:"edges"`
	IO            IOConfig            `json:"io" yaml:"io"`
	Runtime       RuntimeConfig       `json:"runtime" yaml:"runtime"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

var specValidator = validator.New()

// ValidateFields checks per-field constraints (lengths, ranges, enums).
// Graph structure is checked separately by the graph validator.
func (s *PipelineSpec) ValidateFields() error {
	err := specValidator.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidSpec, strings.Join(msgs, "; "))
}

// StageIDs returns the stage ids in authored order.
func (s *PipelineSpec) StageIDs() []string {
	ids := make([]string, len(s.Stages))
	for i, st := range s.Stages {
		ids[i] = st.StageID
	}
	return ids
}

// ImplicitChain links stages in their authored order. It is used when a
// document omits its edge list altogether.
func ImplicitChain(stages []Stage) []Edge {
	if len(stages) < 2 {
		return []Edge{}
	}
	edges := make([]Edge, 0, len(stages)-1)
	for i := 0; i < len(stages)-1; i++ {
		edges = append(edges, Edge{Source: stages[i].StageID, Target: stages[i+1].StageID})
	}
	return edges
}

// ApplyDefaults fills optional numeric fields the way authoring tools expect.
func (s *PipelineSpec) ApplyDefaults() {
	if s.ExecutionMode == "" {
		s.ExecutionMode = "streaming"
	}
	if s.IO.Source.Kind == "" {
		s.IO.Source.Kind = "inline"
	}
	if s.IO.Sink.Kind == "" {
		s.IO.Sink.Kind = "none"
	}
	for i := range s.Stages {
		if s.Stages[i].BatchSize == 0 {
			s.Stages[i].BatchSize = 1
		}
		if s.Stages[i].ConcurrencyHint == 0 {
			s.Stages[i].ConcurrencyHint = 1
		}
		if s.Stages[i].Resources.CPUs == 0 {
			s.Stages[i].Resources.CPUs = 1
		}
	}
}

// Clone deep-copies the spec, including stage params and free-form maps.
func (s PipelineSpec) Clone() PipelineSpec {
	c := s
	c.Tags = cloneSlice(s.Tags)
	c.Edges = cloneSlice(s.Edges)
	if s.Stages != nil {
		c.Stages = make([]Stage, len(s.Stages))
		for i, st := range s.Stages {
			st.Params = cloneMap(st.Params)
			c.Stages[i] = st
		}
	}
	c.IO.Source.StaticData = cloneList(s.IO.Source.StaticData)
	c.Runtime.Autoscaling = cloneMap(s.Runtime.Autoscaling)
	c.Runtime.RetryPolicy = cloneMap(s.Runtime.RetryPolicy)
	return c
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	return append([]T(nil), in...)
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneList(in []any) []any {
	if in == nil {
		return nil
	}
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = cloneValue(v)
	}
	return out
}

// cloneValue copies the containers decoded JSON and YAML documents produce
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		return cloneList(t)
	default:
		return v
	}
}
