package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loomcloud/loom/internal/core"
)

// definitionDoc is the JSON shape stored in pipelines.definition_json.
// Tuning values live in their own columns.
type definitionDoc struct {
	Nodes []nodeDoc `json:"nodes"`
	Edges []edgeDoc `json:"edges"`
}

type nodeDoc struct {
	ID     string         `json:"id"`
	Kind   string         `json:"kind"`
	Config map[string]any `json:"config,omitempty"`
}

type edgeDoc struct {
	ID        string `json:"id,omitempty"`
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

func (s *Store) GetPipeline(ctx context.Context, id string) (*core.PipelineDefinition, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, definition_json, timeout_s, max_retries_per_node,
		       retry_backoff_base_s, retry_backoff_max_s
		FROM pipelines
		WHERE id = $1`, id)

	var (
		def         core.PipelineDefinition
		rawDef      []byte
		timeoutS    float64
		backoffBase float64
		backoffMax  float64
	)
	err := row.Scan(&def.ID, &rawDef, &timeoutS, &def.MaxRetriesPerNode, &backoffBase, &backoffMax)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrPipelineNotFound
		}
		return nil, fmt.Errorf("failed to load pipeline %s: %w", id, err)
	}

	var doc definitionDoc
	if err := json.Unmarshal(rawDef, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline %s definition: %w", id, err)
	}
	def.Nodes = make([]core.Node, len(doc.Nodes))
	for i, n := range doc.Nodes {
		// Unknown kinds come back as NodeKindUnknown; validation at
		// execution time reports them.
		kind, _ := core.ParseNodeKind(n.Kind)
		def.Nodes[i] = core.Node{ID: n.ID, Kind: kind, Config: n.Config}
	}
	def.Edges = make([]core.Edge, len(doc.Edges))
	for i, e := range doc.Edges {
		def.Edges[i] = core.Edge{ID: e.ID, From: e.From, To: e.To, Condition: e.Condition}
	}
	def.Timeout = secondsToDuration(timeoutS)
	def.RetryBackoffBase = secondsToDuration(backoffBase)
	def.RetryBackoffMax = secondsToDuration(backoffMax)
	return &def, nil
}

func (s *Store) SavePipeline(ctx context.Context, def *core.PipelineDefinition) error {
	doc := definitionDoc{
		Nodes: make([]nodeDoc, len(def.Nodes)),
		Edges: make([]edgeDoc, len(def.Edges)),
	}
	for i, n := range def.Nodes {
		doc.Nodes[i] = nodeDoc{ID: n.ID, Kind: n.Kind.String(), Config: n.Config}
	}
	for i, e := range def.Edges {
		doc.Edges[i] = edgeDoc{ID: e.ID, From: e.From, To: e.To, Condition: e.Condition}
	}
	rawDef, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode pipeline %s definition: %w", def.ID, err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO pipelines (
			id, definition_json, timeout_s, max_retries_per_node,
			retry_backoff_base_s, retry_backoff_max_s
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			definition_json = EXCLUDED.definition_json,
			timeout_s = EXCLUDED.timeout_s,
			max_retries_per_node = EXCLUDED.max_retries_per_node,
			retry_backoff_base_s = EXCLUDED.retry_backoff_base_s,
			retry_backoff_max_s = EXCLUDED.retry_backoff_max_s,
			updated_at = NOW()`,
		def.ID, rawDef, def.Timeout.Seconds(), def.MaxRetriesPerNode,
		def.RetryBackoffBase.Seconds(), def.RetryBackoffMax.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save pipeline %s: %w", def.ID, err)
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run *core.PipelineRun) error {
	triggerData, err := json.Marshal(run.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to encode trigger data: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO pipeline_runs (id, pipeline_id, status, trigger_data_json, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.PipelineID, run.Status.String(), triggerData, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*core.PipelineRun, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, pipeline_id, status, trigger_data_json,
		       COALESCE(current_node, ''), started_at, completed_at,
		       COALESCE(error, '')
		FROM pipeline_runs
		WHERE id = $1`, id)

	var (
		run         core.PipelineRun
		status      string
		triggerData []byte
		completedAt *time.Time
	)
	err := row.Scan(&run.ID, &run.PipelineID, &status, &triggerData,
		&run.CurrentNode, &run.StartedAt, &completedAt, &run.Error)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	if run.Status, err = core.ParseRunStatus(status); err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	if len(triggerData) > 0 {
		if err := json.Unmarshal(triggerData, &run.TriggerData); err != nil {
			return nil, fmt.Errorf("failed to decode trigger data for run %s: %w", id, err)
		}
	}
	if completedAt != nil {
		run.CompletedAt = *completedAt
	}
	return &run, nil
}

// UpdateRunStatus transitions a run. Terminal states are write-once:
// an update against an already terminal run is a no-op.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status core.RunStatus, errMsg string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE pipeline_runs
		SET status = $2,
		    error = NULLIF($3, ''),
		    completed_at = CASE WHEN $4 THEN NOW() ELSE completed_at END,
		    duration_s = CASE WHEN $4 THEN EXTRACT(EPOCH FROM (NOW() - started_at)) ELSE duration_s END
		WHERE id = $1
		  AND status NOT IN ('completed', 'failed', 'cancelled', 'timeout')`,
		id, status.String(), errMsg, status.IsTerminal(),
	)
	if err != nil {
		return fmt.Errorf("failed to update run %s status: %w", id, err)
	}
	return nil
}

func (s *Store) SetCurrentNode(ctx context.Context, runID, nodeID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE pipeline_runs SET current_node = $2 WHERE id = $1`,
		runID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to set current node for run %s: %w", runID, err)
	}
	return nil
}

// SaveNodeRun upserts the attempt-series row for (run_id, node_id).
func (s *Store) SaveNodeRun(ctx context.Context, nodeRun *core.NodeRun) error {
	inputSummary, err := json.Marshal(nodeRun.InputSummary)
	if err != nil {
		return fmt.Errorf("failed to encode input summary: %w", err)
	}
	outputSummary, err := json.Marshal(nodeRun.OutputSummary)
	if err != nil {
		return fmt.Errorf("failed to encode output summary: %w", err)
	}

	var completedAt *time.Time
	if !nodeRun.CompletedAt.IsZero() {
		completedAt = &nodeRun.CompletedAt
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO pipeline_node_runs (
			run_id, node_id, kind, status, input_summary_json,
			output_summary_json, error, retry_count, started_at,
			completed_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11)
		ON CONFLICT (run_id, node_id) DO UPDATE SET
			status = EXCLUDED.status,
			input_summary_json = EXCLUDED.input_summary_json,
			output_summary_json = EXCLUDED.output_summary_json,
			error = EXCLUDED.error,
			retry_count = EXCLUDED.retry_count,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms`,
		nodeRun.RunID, nodeRun.NodeID, nodeRun.Kind.String(), nodeRun.Status.String(),
		inputSummary, outputSummary, nodeRun.Error, nodeRun.RetryCount,
		nodeRun.StartedAt, completedAt, nodeRun.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to save node run %s/%s: %w", nodeRun.RunID, nodeRun.NodeID, err)
	}
	return nil
}

func (s *Store) ListNodeRuns(ctx context.Context, runID string) ([]*core.NodeRun, error) {
	rows, err := s.db.Query(ctx, `
		SELECT run_id, node_id, kind, status, input_summary_json,
		       output_summary_json, COALESCE(error, ''), retry_count,
		       started_at, completed_at, COALESCE(duration_ms, 0)
		FROM pipeline_node_runs
		WHERE run_id = $1
		ORDER BY started_at, node_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node runs for %s: %w", runID, err)
	}
	defer rows.Close()

	var nodeRuns []*core.NodeRun
	for rows.Next() {
		nr, err := scanNodeRun(rows)
		if err != nil {
			return nil, err
		}
		nodeRuns = append(nodeRuns, nr)
	}
	return nodeRuns, rows.Err()
}

func scanNodeRun(row rowScanner) (*core.NodeRun, error) {
	var (
		nr            core.NodeRun
		kind          string
		status        string
		inputSummary  []byte
		outputSummary []byte
		completedAt   *time.Time
	)
	err := row.Scan(&nr.RunID, &nr.NodeID, &kind, &status, &inputSummary,
		&outputSummary, &nr.Error, &nr.RetryCount, &nr.StartedAt,
		&completedAt, &nr.DurationMS)
	if err != nil {
		return nil, fmt.Errorf("failed to scan node run: %w", err)
	}
	nr.Kind, _ = core.ParseNodeKind(kind)
	if nr.Status, err = core.ParseNodeStatus(status); err != nil {
		return nil, err
	}
	if len(inputSummary) > 0 {
		_ = json.Unmarshal(inputSummary, &nr.InputSummary)
	}
	if len(outputSummary) > 0 {
		_ = json.Unmarshal(outputSummary, &nr.OutputSummary)
	}
	if completedAt != nil {
		nr.CompletedAt = *completedAt
	}
	return &nr, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
