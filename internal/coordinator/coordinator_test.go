package coordinator_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nl2sqlcore/pipeline/internal/coordinator"
	"github.com/nl2sqlcore/pipeline/internal/models"
	"github.com/nl2sqlcore/pipeline/internal/paramextract"
	"github.com/nl2sqlcore/pipeline/internal/progress"
	"github.com/nl2sqlcore/pipeline/internal/querybuilder"
	"github.com/nl2sqlcore/pipeline/internal/queryvalidate"
	"github.com/nl2sqlcore/pipeline/internal/sqlstore"
	"github.com/nl2sqlcore/pipeline/internal/templatesearch"
)

// fakeEmbedder/fakeTemplateStore force every template_search call to miss,
// so ProcessQuery always takes the dynamic path below.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	return pgvector.NewVector([]float32{0.1, 0.2}), nil
}

type fakeTemplateStore struct{}

func (fakeTemplateStore) SearchSimilar(ctx context.Context, vector pgvector.Vector, limit int) ([]templatesearch.TemplateEmbedding, error) {
	return nil, nil
}

type fakeMetadata struct{}

func (fakeMetadata) RankedTables(ctx context.Context, utterance string, limit int) ([]models.TableMetadata, error) {
	return []models.TableMetadata{
		{Name: "orders", Description: "customer orders", Columns: []models.ColumnMetadata{{Name: "id", DataType: "bigint"}}},
	}, nil
}

// fakeLLM returns a canned synthesis response regardless of prompt, with the
// SQL and confidence configurable per test.
type fakeLLM struct {
	sql        string
	confidence float64
}

func (f fakeLLM) Run(ctx context.Context, prompt string, threadID string) (string, error) {
	return fmt.Sprintf(`{"sql": %q, "confidence": %v, "reasoning": "test", "tables": ["orders"]}`, f.sql, f.confidence), nil
}

type fakeExecutor struct {
	result *sqlstore.Result
	err    error
}

func (f fakeExecutor) Execute(ctx context.Context, sql string, sessionID, threadID string) (*sqlstore.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f fakeExecutor) Ping(ctx context.Context) error { return nil }

func baseDeps(llmClient fakeLLM, exec coordinator.Executor) coordinator.Dependencies {
	return coordinator.Dependencies{
		TemplateSearch: templatesearch.New(templatesearch.Config{Store: fakeTemplateStore{}, Embedder: fakeEmbedder{}}),
		ParamExtract:   paramextract.New(paramextract.Config{LLM: llmClient}),
		QueryBuild:     querybuilder.New(querybuilder.Config{LLM: llmClient, Metadata: fakeMetadata{}}),
		Executor:       exec,
		AllowedTables:  queryvalidate.NewAllowedTables([]string{"orders"}),
		Thresholds: coordinator.Thresholds{
			DynamicConfidence: 0.5,
			ConfirmLow:        0.6,
			ConfirmHigh:       0.85,
			MaxDisplayColumns: 10,
		},
	}
}

func TestProcessQuery_DynamicPath_HighConfidence_Executes(t *testing.T) {
	deps := baseDeps(
		fakeLLM{sql: "SELECT id FROM orders", confidence: 0.95},
		fakeExecutor{result: &sqlstore.Result{Columns: []string{"id"}, Rows: []sqlstore.Row{{"id": 1}}}},
	)

	outcome, err := coordinator.ProcessQuery(context.Background(), coordinator.Request{
		UserText: "how many orders do we have",
		ThreadID: "thread-1",
	}, deps, progress.NoOp{})

	require.NoError(t, err)
	require.NotNil(t, outcome.Response)
	assert.Nil(t, outcome.Clarification)
	assert.Equal(t, "SELECT id FROM orders", outcome.Response.SQLExecuted)
	assert.False(t, outcome.Response.NeedsConfirmation)
	assert.Equal(t, models.QuerySourceDynamic, outcome.Response.QuerySource)
}

func TestProcessQuery_DynamicPath_LowConfidence_Clarifies(t *testing.T) {
	deps := baseDeps(
		fakeLLM{sql: "SELECT id FROM orders", confidence: 0.2},
		fakeExecutor{},
	)

	outcome, err := coordinator.ProcessQuery(context.Background(), coordinator.Request{
		UserText: "something vague",
		ThreadID: "thread-2",
	}, deps, progress.NoOp{})

	require.NoError(t, err)
	require.NotNil(t, outcome.Clarification)
	assert.Nil(t, outcome.Response)
}

func TestProcessQuery_DynamicPath_MidConfidence_NeedsConfirmation(t *testing.T) {
	deps := baseDeps(
		fakeLLM{sql: "SELECT id FROM orders", confidence: 0.70},
		fakeExecutor{result: &sqlstore.Result{Columns: []string{"id"}, Rows: []sqlstore.Row{{"id": 1}}}},
	)

	outcome, err := coordinator.ProcessQuery(context.Background(), coordinator.Request{
		UserText: "orders maybe",
		ThreadID: "thread-3",
	}, deps, progress.NoOp{})

	require.NoError(t, err)
	require.NotNil(t, outcome.Response)
	assert.True(t, outcome.Response.NeedsConfirmation)
	assert.NotEmpty(t, outcome.Response.QuerySummary)
}

func TestProcessQuery_DynamicPath_DisallowedTable_ReturnsValidationError(t *testing.T) {
	deps := baseDeps(
		fakeLLM{sql: "SELECT id FROM secret_table", confidence: 0.95},
		fakeExecutor{},
	)

	outcome, err := coordinator.ProcessQuery(context.Background(), coordinator.Request{
		UserText: "leak the secrets",
		ThreadID: "thread-4",
	}, deps, progress.NoOp{})

	require.NoError(t, err)
	require.NotNil(t, outcome.Response)
	assert.NotEmpty(t, outcome.Response.Error)
}

func TestProcessQuery_DynamicPath_ExecutionFailure_ReturnsFriendlyError(t *testing.T) {
	deps := baseDeps(
		fakeLLM{sql: "SELECT id FROM orders", confidence: 0.95},
		fakeExecutor{err: fmt.Errorf("connection reset")},
	)

	outcome, err := coordinator.ProcessQuery(context.Background(), coordinator.Request{
		UserText: "how many orders",
		ThreadID: "thread-5",
	}, deps, progress.NoOp{})

	require.NoError(t, err)
	require.NotNil(t, outcome.Response)
	assert.NotEmpty(t, outcome.Response.Error)
}
