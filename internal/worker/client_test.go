package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mushimuro/agent-company/internal/config"
	coreerrors "github.com/mushimuro/agent-company/internal/errors"
	"github.com/mushimuro/agent-company/internal/task"
)

func testWorkerConfig(url string) config.WorkerConfig {
	return config.WorkerConfig{
		BaseURL:        url,
		SigningSecret:  "test-secret",
		RunTimeout:     5 * time.Second,
		MergeTimeout:   5 * time.Second,
		CleanupTimeout: 5 * time.Second,
		MaxRetries:     2,
		RetryBackoff:   time.Millisecond,
	}
}

func TestRunAgentSignsAndDecodes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/run_agent", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, Verify([]byte("test-secret"),
			r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderSignature), body, 0))

		var req RunAgentRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "a1", req.AttemptID)
		assert.Equal(t, task.RoleBackend, req.Task.AgentRole)
		assert.Equal(t, []string{"returns 200"}, req.Task.AcceptanceCriteria)
		assert.Equal(t, "proj", req.Project.Name)
		assert.Equal(t, "model-large", req.Model)

		json.NewEncoder(w).Encode(RunAgentResponse{
			Success:   true,
			Output:    "implemented endpoint",
			GitBranch: "agent-backend-t1",
			GateResults: []GateResult{
				{Kind: task.GateTest, Status: task.GatePassed},
			},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(testWorkerConfig(srv.URL), nil)
	resp, err := c.RunAgent(context.Background(), &RunAgentRequest{
		AttemptID: "a1",
		Task: TaskSpec{
			ID:                 "t1",
			AgentRole:          task.RoleBackend,
			AcceptanceCriteria: []string{"returns 200"},
		},
		Project: ProjectSpec{Name: "proj"},
		Model:   "model-large",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "implemented endpoint", resp.Output)
	require.Len(t, resp.GateResults, 1)
	assert.Equal(t, task.GatePassed, resp.GateResults[0].Status)
}

func TestHTTPStatusErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(testWorkerConfig(srv.URL), nil)
	_, err := c.MergeBranch(context.Background(), &MergeBranchRequest{AttemptID: "a1"})

	ce := coreerrors.AsCoreError(err)
	require.NotNil(t, ce)
	assert.Equal(t, coreerrors.CodeWorkerReported, ce.Code)
	assert.EqualValues(t, 1, calls.Load(), "status errors must not be replayed")
}

func TestTransportErrorIsRetriedThenUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	cfg := testWorkerConfig(srv.URL)
	cfg.MaxRetries = 3
	c := NewHTTPClient(cfg, nil)

	var failures atomic.Int32
	ctx := WithTransportErrorHook(context.Background(), func(error) {
		failures.Add(1)
	})

	_, err := c.Cleanup(ctx, &CleanupRequest{AttemptID: "a1"})

	ce := coreerrors.AsCoreError(err)
	require.NotNil(t, ce)
	assert.Equal(t, coreerrors.CodeWorkerUnreachable, ce.Code)
	assert.EqualValues(t, 3, failures.Load(), "one hook call per failed delivery")
}

func TestMalformedResponseIsProtocolError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{not json")
	}))
	defer srv.Close()

	c := NewHTTPClient(testWorkerConfig(srv.URL), nil)
	_, err := c.RunAgent(context.Background(), &RunAgentRequest{AttemptID: "a1"})

	ce := coreerrors.AsCoreError(err)
	require.NotNil(t, ce)
	assert.Equal(t, coreerrors.CodeProtocol, ce.Code)
}

func TestMergeConflictSurfacesInResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(MergeBranchResponse{
			Conflict: true,
			Detail:   "conflict in src/api/routes.go",
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(testWorkerConfig(srv.URL), nil)
	resp, err := c.MergeBranch(context.Background(), &MergeBranchRequest{AttemptID: "a1"})
	require.NoError(t, err)
	assert.False(t, resp.Merged)
	assert.True(t, resp.Conflict)
}
