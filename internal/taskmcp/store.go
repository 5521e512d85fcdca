package taskmcp

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	StatusOpen      = "open"
	StatusCompleted = "completed"
)

var ErrUserRequired = errors.New("puch_user_id is required")

// Task is one user's task. Timestamps are RFC 3339 in UTC.
type Task struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Status    string   `json:"status"`
	DueAt     string   `json:"due_at,omitempty"`
	Priority  string   `json:"priority"`
	Tags      []string `json:"tags"`
	Notes     string   `json:"notes,omitempty"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

// TaskStore keeps tasks in memory, partitioned by user id. Every user
// sees only their own tasks; there is no cross-user view.
type TaskStore struct {
	mu     sync.Mutex
	byUser map[string]map[string]*Task
	now    func() time.Time
}

func NewTaskStore() *TaskStore {
	return &TaskStore{
		byUser: make(map[string]map[string]*Task),
		now:    time.Now,
	}
}

func (s *TaskStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// tasks returns the user's bucket, creating it on first use. Callers
// must hold s.mu.
func (s *TaskStore) tasks(userID string) (map[string]*Task, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	bucket, ok := s.byUser[userID]
	if !ok {
		bucket = make(map[string]*Task)
		s.byUser[userID] = bucket
	}
	return bucket, nil
}

func (s *TaskStore) Add(userID, title, dueAt, priority string, tags []string, notes string) (Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Task{}, errors.New("title cannot be empty")
	}
	if priority == "" {
		priority = "normal"
	}
	switch priority {
	case "low", "normal", "high":
	default:
		return Task{}, fmt.Errorf("invalid priority %q", priority)
	}
	if tags == nil {
		tags = []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, err := s.tasks(userID)
	if err != nil {
		return Task{}, err
	}
	now := s.timestamp()
	t := &Task{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    StatusOpen,
		DueAt:     dueAt,
		Priority:  priority,
		Tags:      tags,
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	bucket[t.ID] = t
	return *t, nil
}

// List returns the user's tasks sorted by due date then creation time,
// undated tasks last. All filters are optional and conjunctive.
func (s *TaskStore) List(userID, status, tag, search string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, err := s.tasks(userID)
	if err != nil {
		return nil, err
	}

	out := make([]Task, 0, len(bucket))
	for _, t := range bucket {
		if status != "" && t.Status != status {
			continue
		}
		if tag != "" && !containsTag(t.Tags, tag) {
			continue
		}
		if search != "" && !matchesSearch(t, search) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].DueAt, out[j].DueAt
		if di == "" {
			di = "9999"
		}
		if dj == "" {
			dj = "9999"
		}
		if di != dj {
			return di < dj
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out, nil
}

func (s *TaskStore) Get(userID, taskID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, err := s.tasks(userID)
	if err != nil {
		return Task{}, err
	}
	t, ok := bucket[taskID]
	if !ok {
		return Task{}, fmt.Errorf("no task %s for user", taskID)
	}
	return *t, nil
}

func (s *TaskStore) Complete(userID, taskID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, err := s.tasks(userID)
	if err != nil {
		return Task{}, err
	}
	t, ok := bucket[taskID]
	if !ok {
		return Task{}, fmt.Errorf("no task %s for user", taskID)
	}
	t.Status = StatusCompleted
	t.UpdatedAt = s.timestamp()
	return *t, nil
}

func (s *TaskStore) Remove(userID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, err := s.tasks(userID)
	if err != nil {
		return err
	}
	if _, ok := bucket[taskID]; !ok {
		return fmt.Errorf("no task %s for user", taskID)
	}
	delete(bucket, taskID)
	return nil
}

func containsTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func matchesSearch(t *Task, search string) bool {
	needle := strings.ToLower(search)
	return strings.Contains(strings.ToLower(t.Title), needle) ||
		strings.Contains(strings.ToLower(t.Notes), needle)
}
