package chathub_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"roomrelay/backend/internal/chathub"
	"roomrelay/backend/internal/models"
)

var anyCtx = mock.Anything

// MockStorage is a testify mock of chathub.Store for failure paths.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) LoadMessages(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	args := m.Called(ctx, roomID)
	msgs, _ := args.Get(0).([]models.ChatMessage)
	return msgs, args.Error(1)
}

func (m *MockStorage) UpsertMessage(ctx context.Context, roomID string, msg models.ChatMessage) error {
	return m.Called(ctx, roomID, msg).Error(0)
}

func (m *MockStorage) DeleteMessage(ctx context.Context, roomID, id string) error {
	return m.Called(ctx, roomID, id).Error(0)
}

func (m *MockStorage) DeleteAllMessages(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

func (m *MockStorage) DeleteUserMessages(ctx context.Context, roomID, user string) (int64, error) {
	args := m.Called(ctx, roomID, user)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) RecordVisit(ctx context.Context, roomID, address string, at time.Time) (bool, error) {
	args := m.Called(ctx, roomID, address, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) CountVisitors(ctx context.Context, roomID string) (int64, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).(int64), args.Error(1)
}

// memStore is an in-memory chathub.Store.
type memStore struct {
	mu       sync.Mutex
	messages map[string]map[string]models.ChatMessage
	visitors map[string]map[string]int
	loads    int
}

func newMemStore() *memStore {
	return &memStore{
		messages: make(map[string]map[string]models.ChatMessage),
		visitors: make(map[string]map[string]int),
	}
}

func (s *memStore) seed(roomID string, msgs ...models.ChatMessage) {
	for _, m := range msgs {
		_ = s.UpsertMessage(context.Background(), roomID, m)
	}
}

func (s *memStore) count(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[roomID])
}

func (s *memStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func (s *memStore) LoadMessages(_ context.Context, roomID string) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	out := make([]models.ChatMessage, 0, len(s.messages[roomID]))
	for _, m := range s.messages[roomID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) UpsertMessage(_ context.Context, roomID string, msg models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages[roomID] == nil {
		s.messages[roomID] = make(map[string]models.ChatMessage)
	}
	if old, ok := s.messages[roomID][msg.ID]; ok {
		msg.Timestamp = old.Timestamp
	}
	s.messages[roomID][msg.ID] = msg
	return nil
}

func (s *memStore) DeleteMessage(_ context.Context, roomID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages[roomID], id)
	return nil
}

func (s *memStore) DeleteAllMessages(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, roomID)
	return nil
}

func (s *memStore) DeleteUserMessages(_ context.Context, roomID, user string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.messages[roomID] {
		if m.User == user {
			delete(s.messages[roomID], id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) RecordVisit(_ context.Context, roomID, address string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visitors[roomID] == nil {
		s.visitors[roomID] = make(map[string]int)
	}
	s.visitors[roomID][address]++
	return s.visitors[roomID][address] == 1, nil
}

func (s *memStore) CountVisitors(_ context.Context, roomID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.visitors[roomID])), nil
}

// allowRooms is a chathub.RoomChecker over a fixed set.
type allowRooms map[string]bool

func (a allowRooms) Has(_ context.Context, roomID string) (bool, error) {
	if roomID == "broken" {
		return false, errors.New("registry unavailable")
	}
	return a[roomID], nil
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockClient is a chathub.Client that records frames.
type MockClient struct {
	id     string
	admin  bool
	frames chan []byte

	mu     sync.Mutex
	closed bool
}

func newMockClient(id string) *MockClient {
	return &MockClient{id: id, frames: make(chan []byte, 64)}
}

func newAdminClient(id string) *MockClient {
	c := newMockClient(id)
	c.admin = true
	return c
}

// newSlowClient has room for the snapshot and nothing else.
func newSlowClient(id string) *MockClient {
	return &MockClient{id: id, frames: make(chan []byte, 1)}
}

func (c *MockClient) GetConnID() string { return c.id }
func (c *MockClient) IsAdmin() bool     { return c.admin }

func (c *MockClient) Send(frame []byte) bool {
	select {
	case c.frames <- frame:
		return true
	default:
		return false
	}
}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *MockClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// frame is a decoded outbound frame.
type frame map[string]any

func (f frame) Type() string {
	t, _ := f["type"].(string)
	return t
}

// next returns the next frame sent to c, failing the test after a second.
func (c *MockClient) next(t *testing.T) frame {
	t.Helper()
	select {
	case data := <-c.frames:
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(time.Second):
		t.Fatalf("client %s: no frame received", c.id)
		return nil
	}
}

// expect reads the next frames and checks their types in order.
func (c *MockClient) expect(t *testing.T, types ...string) []frame {
	t.Helper()
	out := make([]frame, 0, len(types))
	for _, typ := range types {
		f := c.next(t)
		require.Equal(t, typ, f.Type(), "client %s: unexpected frame %v", c.id, f)
		out = append(out, f)
	}
	return out
}

// quiet asserts nothing else was sent to c.
func (c *MockClient) quiet(t *testing.T) {
	t.Helper()
	select {
	case data := <-c.frames:
		t.Fatalf("client %s: unexpected frame %s", c.id, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func (c *MockClient) send(t *testing.T, s *chathub.Session, raw string) {
	t.Helper()
	require.NoError(t, s.Deliver(c, []byte(raw)))
}

// messageIDs extracts ids from an "all" frame.
func messageIDs(f frame) []string {
	list, _ := f["messages"].([]any)
	ids := make([]string, 0, len(list))
	for _, item := range list {
		m, _ := item.(map[string]any)
		id, _ := m["id"].(string)
		ids = append(ids, id)
	}
	return ids
}

func testOptions(clock *fakeClock) chathub.Options {
	return chathub.Options{
		SweepInterval:   10 * time.Millisecond,
		PresenceTimeout: 60 * time.Second,
		StorageTimeout:  time.Second,
		Now:             clock.Now,
	}
}

func newTestManager(t *testing.T, store chathub.Store, clock *fakeClock, rooms ...string) *chathub.ManagerService {
	t.Helper()
	allowed := allowRooms{}
	for _, r := range rooms {
		allowed[r] = true
	}
	m := chathub.NewManagerService(store, allowed, testOptions(clock))
	t.Cleanup(m.Shutdown)
	return m
}

func join(t *testing.T, m *chathub.ManagerService, roomID string, c *MockClient) *chathub.Session {
	t.Helper()
	s, err := m.Join(context.Background(), roomID, c)
	require.NoError(t, err)
	return s
}
