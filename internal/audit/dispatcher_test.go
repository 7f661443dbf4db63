// ABOUTME: Tests for the audit dispatcher: async delivery, drain on close
// ABOUTME: Uses a recording sink plus a real sqlite store for the append path

package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warren/internal/store"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []*store.AuditEntry
	err     error
}

func (s *recordingSink) AppendAudit(ctx context.Context, e *store.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestDispatcher_DeliversAsynchronously(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, nil)

	d.Emit(&store.AuditEntry{Action: store.AuditConversationCreated, ConversationID: "c1"})
	d.Emit(&store.AuditEntry{Action: store.AuditOperatorAssigned, ConversationID: "c1"})

	require.Eventually(t, func() bool { return sink.count() == 2 },
		time.Second, 10*time.Millisecond)
}

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, nil)

	for i := 0; i < 50; i++ {
		d.Emit(&store.AuditEntry{Action: store.AuditConversationClosed, ConversationID: "c1"})
	}
	d.Close()

	assert.Equal(t, 50, sink.count())
}

func TestDispatcher_EmitAfterCloseDropsQuietly(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, nil)
	d.Close()

	// Must not panic or block
	d.Emit(&store.AuditEntry{Action: store.AuditConversationCreated, ConversationID: "c1"})
	assert.Zero(t, sink.count())
}

func TestDispatcher_SinkFailureDoesNotStopConsumer(t *testing.T) {
	sink := &recordingSink{err: errors.New("write failed")}
	d := NewDispatcher(sink, nil)

	d.Emit(&store.AuditEntry{Action: store.AuditConversationCreated, ConversationID: "c1"})

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	d.Emit(&store.AuditEntry{Action: store.AuditOperatorAssigned, ConversationID: "c1"})
	d.Close()

	assert.Equal(t, 1, sink.count())
}

func TestDispatcher_ConcurrentEmitAndClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, nil)

	const emitters = 8
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < emitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 100; j++ {
				d.Emit(&store.AuditEntry{Action: store.AuditConversationCreated, ConversationID: "c1"})
			}
		}()
	}

	// Close races the emitters; events may be dropped but nothing may panic
	close(start)
	d.Close()
	wg.Wait()

	assert.LessOrEqual(t, sink.count(), emitters*100)
}

func TestDispatcher_WritesToStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	d := NewDispatcher(s, nil)
	opID := "op-1"
	d.Emit(&store.AuditEntry{
		Action:         store.AuditOperatorAssigned,
		ConversationID: "c1",
		OperatorID:     &opID,
		Detail:         map[string]any{"from_status": "pending"},
	})
	d.Close()

	entries, err := s.ListAuditByConversation(context.Background(), "c1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.AuditOperatorAssigned, entries[0].Action)
	require.NotNil(t, entries[0].OperatorID)
	assert.Equal(t, "op-1", *entries[0].OperatorID)
	assert.Equal(t, "pending", entries[0].Detail["from_status"])
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].Timestamp.IsZero())
}
