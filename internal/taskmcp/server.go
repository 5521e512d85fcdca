// Package taskmcp is the launchable payload of the native-task target: a
// per-user task manager exposed over MCP streamable HTTP, guarded by a
// static bearer token.
package taskmcp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Config is everything the server needs. AuthToken and MyNumber come
// from the target's config file; neither is ever logged.
type Config struct {
	AuthToken string
	MyNumber  string
	Addr      string
}

func (c Config) validate() error {
	if c.AuthToken == "" {
		return errors.New("AUTH_TOKEN is not set")
	}
	if c.MyNumber == "" {
		return errors.New("MY_NUMBER is not set")
	}
	return nil
}

type taskKeyInput struct {
	PuchUserID string `json:"puch_user_id" jsonschema:"Puch user unique identifier"`
	TaskID     string `json:"task_id" jsonschema:"Task ID"`
}

type addTaskInput struct {
	PuchUserID string   `json:"puch_user_id" jsonschema:"Puch user unique identifier"`
	Title      string   `json:"title" jsonschema:"Task title"`
	DueAt      string   `json:"due_at,omitempty" jsonschema:"ISO 8601 datetime"`
	Priority   string   `json:"priority,omitempty" jsonschema:"low, normal or high"`
	Tags       []string `json:"tags,omitempty" jsonschema:"List of tags"`
	Notes      string   `json:"notes,omitempty" jsonschema:"Free-form notes"`
}

type listTasksInput struct {
	PuchUserID string `json:"puch_user_id" jsonschema:"Puch user unique identifier"`
	Status     string `json:"status,omitempty" jsonschema:"Filter by status: open or completed"`
	Tag        string `json:"tag,omitempty" jsonschema:"Filter by tag"`
	Search     string `json:"search,omitempty" jsonschema:"Substring match on title and notes"`
}

type listTasksOutput struct {
	Tasks []Task `json:"tasks"`
}

type removeTaskOutput struct {
	Removed string `json:"removed"`
}

// NewServer builds the MCP server with the task tools registered over
// the given store.
func NewServer(cfg Config, store *TaskStore) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "task-manager", Version: "1.0.0"}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "validate",
		Description: "Return the phone number of the server owner for connection validation.",
	}, func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: cfg.MyNumber}},
		}, nil, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "add_task",
		Description: "Create a new task for a specific user (by puch_user_id).",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in addTaskInput) (*mcp.CallToolResult, Task, error) {
		t, err := store.Add(in.PuchUserID, in.Title, in.DueAt, in.Priority, in.Tags, in.Notes)
		return nil, t, err
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_tasks",
		Description: "List a user's tasks with optional filters (status, tag, search).",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in listTasksInput) (*mcp.CallToolResult, listTasksOutput, error) {
		tasks, err := store.List(in.PuchUserID, in.Status, in.Tag, in.Search)
		return nil, listTasksOutput{Tasks: tasks}, err
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_task",
		Description: "Fetch a single task by its ID for a given user.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in taskKeyInput) (*mcp.CallToolResult, Task, error) {
		t, err := store.Get(in.PuchUserID, in.TaskID)
		return nil, t, err
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "complete_task",
		Description: "Mark a user's task as completed by ID.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in taskKeyInput) (*mcp.CallToolResult, Task, error) {
		t, err := store.Complete(in.PuchUserID, in.TaskID)
		return nil, t, err
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "remove_task",
		Description: "Delete a user's task by ID.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in taskKeyInput) (*mcp.CallToolResult, removeTaskOutput, error) {
		if err := store.Remove(in.PuchUserID, in.TaskID); err != nil {
			return nil, removeTaskOutput{}, err
		}
		return nil, removeTaskOutput{Removed: in.TaskID}, nil
	})

	return srv
}

// Handler wraps the MCP streamable HTTP transport in a bearer check.
// Requests without the exact token get 401 before any MCP handling.
func Handler(cfg Config, srv *mcp.Server) http.Handler {
	inner := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return srv
	}, nil)
	want := []byte(cfg.AuthToken)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="/mcp"`)
			http.Error(w, "invalid or missing bearer token", http.StatusUnauthorized)
			return
		}
		inner.ServeHTTP(w, r)
	})
}

// Serve runs the task server until ctx is cancelled, then shuts the
// listener down with a short drain window.
func Serve(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8086"
	}

	store := NewTaskStore()
	srv := NewServer(cfg, store)

	mux := http.NewServeMux()
	mux.Handle("/mcp", Handler(cfg, srv))
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("task server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("task server shutdown: %w", err)
	}
	return nil
}
