package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mushimuro/agent-company/internal/config"
	"github.com/mushimuro/agent-company/internal/db"
	"github.com/mushimuro/agent-company/internal/events"
)

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func dialProject(t *testing.T, h *harness, projectID, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(h.http.URL, "/ws/project/"+projectID+query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebsocketStreamsProjectEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	p := h.createProject(t, "proj")
	conn := dialProject(t, h, p.ID, "")

	h.bus.Publish(events.NewEnvelope(
		events.ProjectTopic(p.ID),
		events.KindTaskUpdate,
		events.TaskUpdate{TaskID: "t1", ProjectID: p.ID, Status: "IN_PROGRESS"},
	))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type    string `json:"type"`
		Kind    string `json:"kind"`
		Payload struct {
			TaskID string `json:"task_id"`
			Status string `json:"status"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, string(events.KindTaskUpdate), msg.Kind)
	assert.Equal(t, "t1", msg.Payload.TaskID)
	assert.Equal(t, "IN_PROGRESS", msg.Payload.Status)
}

func TestWebsocketIgnoresOtherProjects(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	p := h.createProject(t, "proj")
	other := h.createProject(t, "other")
	conn := dialProject(t, h, p.ID, "")

	h.bus.Publish(events.NewEnvelope(
		events.ProjectTopic(other.ID),
		events.KindTaskUpdate,
		events.TaskUpdate{TaskID: "elsewhere", ProjectID: other.ID},
	))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "no frame expected for another project's events")
}

func TestWebsocketApplicationPing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	p := h.createProject(t, "proj")
	conn := dialProject(t, h, p.ID, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "pong", msg.Type)
}

func TestWebsocketRequiresToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *config.Config) {
		c.Auth.Enabled = true
		c.Auth.Tokens = map[string]string{"stream-token": "alice"}
	})

	proj := &db.Project{Name: "proj"}
	require.NoError(t, h.db.CreateProject(context.Background(), proj))

	_, resp, err := websocket.DefaultDialer.Dial(
		wsURL(h.http.URL, "/ws/project/"+proj.ID), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(h.http.URL, "/ws/project/"+proj.ID+"?token=stream-token"), nil)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestWebsocketRejectsNonOwner(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *config.Config) {
		c.Auth.Enabled = true
		c.Auth.Tokens = map[string]string{
			"alice-token": "alice",
			"bob-token":   "bob",
		}
	})

	proj := &db.Project{Name: "proj", OwnerID: "alice"}
	require.NoError(t, h.db.CreateProject(context.Background(), proj))

	// Someone else's valid token does not grant a stream.
	_, resp, err := websocket.DefaultDialer.Dial(
		wsURL(h.http.URL, "/ws/project/"+proj.ID+"?token=bob-token"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// An unknown project is rejected before the upgrade, too.
	_, resp, err = websocket.DefaultDialer.Dial(
		wsURL(h.http.URL, "/ws/project/missing?token=alice-token"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// The owner connects and receives the project's events.
	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(h.http.URL, "/ws/project/"+proj.ID+"?token=alice-token"), nil)
	require.NoError(t, err)
	defer conn.Close()

	h.bus.Publish(events.NewEnvelope(
		events.ProjectTopic(proj.ID),
		events.KindTaskUpdate,
		events.TaskUpdate{TaskID: "t1", ProjectID: proj.ID, Status: "DONE"},
	))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, string(events.KindTaskUpdate), msg.Kind)
}
