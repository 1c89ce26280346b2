package digraph

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"

	"github.com/loomcloud/loom/internal/core"
)

// TuningDefaults carries the values applied when a raw definition
// omits a tuning field. Absent fields are distinguished from explicit
// zeros by the pointer form of rawDefinition.
type TuningDefaults struct {
	Timeout           time.Duration
	MaxRetriesPerNode int
	RetryBackoffBase  time.Duration
	RetryBackoffMax   time.Duration
}

// Tuning is the package-wide parse default set. The server overrides
// Timeout and MaxRetriesPerNode from configuration at startup, the
// same way main injects build.Version.
var Tuning = TuningDefaults{
	Timeout:           core.DefaultPipelineTimeout,
	MaxRetriesPerNode: core.DefaultMaxRetriesPerNode,
	RetryBackoffBase:  core.DefaultRetryBackoffBase,
	RetryBackoffMax:   core.DefaultRetryBackoffMax,
}

// rawDefinition mirrors the mapping-shaped form a definition has in the
// store. Durations are expressed in seconds.
type rawDefinition struct {
	ID                string    `mapstructure:"id"`
	Nodes             []rawNode `mapstructure:"nodes"`
	Edges             []rawEdge `mapstructure:"edges"`
	Timeout           *float64  `mapstructure:"timeout"`
	MaxRetriesPerNode *int      `mapstructure:"max_retries_per_node"`
	RetryBackoffBase  *float64  `mapstructure:"retry_backoff_base"`
	RetryBackoffMax   *float64  `mapstructure:"retry_backoff_max"`
}

type rawNode struct {
	ID     string         `mapstructure:"id"`
	Kind   string         `mapstructure:"kind"`
	Config map[string]any `mapstructure:"config"`
}

type rawEdge struct {
	ID        string `mapstructure:"id"`
	From      string `mapstructure:"from"`
	To        string `mapstructure:"to"`
	Condition string `mapstructure:"condition"`
}

// Parse converts a mapping-shaped definition into a validated
// PipelineDefinition, applying defaults for absent tuning fields. It
// returns a core.ErrorList carrying every validation failure.
func Parse(raw map[string]any) (*core.PipelineDefinition, error) {
	var rd rawDefinition
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &rd,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}

	def := &core.PipelineDefinition{
		ID:                rd.ID,
		Timeout:           Tuning.Timeout,
		MaxRetriesPerNode: Tuning.MaxRetriesPerNode,
		RetryBackoffBase:  Tuning.RetryBackoffBase,
		RetryBackoffMax:   Tuning.RetryBackoffMax,
	}
	if rd.Timeout != nil {
		def.Timeout = secondsToDuration(*rd.Timeout)
	}
	if rd.MaxRetriesPerNode != nil {
		def.MaxRetriesPerNode = *rd.MaxRetriesPerNode
	}
	if rd.RetryBackoffBase != nil {
		def.RetryBackoffBase = secondsToDuration(*rd.RetryBackoffBase)
	}
	if rd.RetryBackoffMax != nil {
		def.RetryBackoffMax = secondsToDuration(*rd.RetryBackoffMax)
	}

	for _, n := range rd.Nodes {
		kind, _ := core.ParseNodeKind(n.Kind)
		def.Nodes = append(def.Nodes, core.Node{
			ID:     n.ID,
			Kind:   kind,
			Config: n.Config,
		})
	}
	for _, e := range rd.Edges {
		def.Edges = append(def.Edges, core.Edge{
			ID:        e.ID,
			From:      e.From,
			To:        e.To,
			Condition: e.Condition,
		})
	}

	if errs := Validate(def.Nodes, def.Edges); len(errs) > 0 {
		return nil, core.ErrorList(errs)
	}
	return def, nil
}

// ParseYAML parses a YAML-encoded pipeline definition.
func ParseYAML(data []byte) (*core.PipelineDefinition, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return Parse(raw)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
