// ABOUTME: Tests for SLA timing facts: write-once semantics, meet/breach edges
// ABOUTME: Runs against a real sqlite store so the column guards are exercised

package sla

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warren/internal/store"
)

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func defaultThresholds() Thresholds {
	return Thresholds{
		FirstResponse: 60 * time.Second,
		Resolution:    10 * time.Minute,
	}
}

func createConversation(t *testing.T, s *store.SQLiteStore, id string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, s.CreateConversation(context.Background(), &store.Conversation{
		ID:          id,
		CustomerRef: "cust-" + id,
		Status:      store.StatusOpen,
		CreatedAt:   createdAt,
	}))
}

func saveOperatorReply(t *testing.T, s *store.SQLiteStore, convID, msgID string, at time.Time) {
	t.Helper()
	require.NoError(t, s.SaveMessage(context.Background(), &store.Message{
		ID:             msgID,
		ConversationID: convID,
		Sender:         store.SenderOperator,
		Body:           "on it",
		Outgoing:       true,
		CreatedAt:      at,
	}))
}

func closeConversation(t *testing.T, s *store.SQLiteStore, id string) {
	t.Helper()
	require.NoError(t, s.SetRouting(context.Background(), id,
		store.RoutingGuard{Status: store.StatusOpen, OperatorID: nil},
		store.RoutingChange{Status: store.StatusClosed, OperatorID: nil, Handover: false},
	))
}

func TestRecordFirstResponse_Meet(t *testing.T) {
	s := createTestStore(t)
	tr := New(s, defaultThresholds(), nil, nil)
	ctx := context.Background()

	created := time.Now().Add(-time.Minute).Truncate(time.Second)
	createConversation(t, s, "conv-1", created)
	saveOperatorReply(t, s, "conv-1", "m1", created.Add(45*time.Second))

	require.NoError(t, tr.RecordFirstResponse(ctx, "conv-1"))

	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv.FirstResponseSecs)
	assert.EqualValues(t, 45, *conv.FirstResponseSecs)
	require.NotNil(t, conv.SLAStatus)
	assert.Equal(t, store.SLAMeet, *conv.SLAStatus)
}

func TestRecordFirstResponse_Breach(t *testing.T) {
	s := createTestStore(t)
	tr := New(s, defaultThresholds(), nil, nil)
	ctx := context.Background()

	created := time.Now().Add(-time.Hour).Truncate(time.Second)
	createConversation(t, s, "conv-1", created)
	saveOperatorReply(t, s, "conv-1", "m1", created.Add(5*time.Minute))

	require.NoError(t, tr.RecordFirstResponse(ctx, "conv-1"))

	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv.SLAStatus)
	assert.Equal(t, store.SLABreach, *conv.SLAStatus)
}

func TestRecordFirstResponse_IdempotentAcrossLaterReplies(t *testing.T) {
	s := createTestStore(t)
	tr := New(s, defaultThresholds(), nil, nil)
	ctx := context.Background()

	created := time.Now().Add(-time.Hour).Truncate(time.Second)
	createConversation(t, s, "conv-1", created)
	saveOperatorReply(t, s, "conv-1", "m1", created.Add(30*time.Second))

	require.NoError(t, tr.RecordFirstResponse(ctx, "conv-1"))

	// A later reply and a repeated call must not change the recorded value
	saveOperatorReply(t, s, "conv-1", "m2", created.Add(20*time.Minute))
	require.NoError(t, tr.RecordFirstResponse(ctx, "conv-1"))

	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv.FirstResponseSecs)
	assert.EqualValues(t, 30, *conv.FirstResponseSecs)
	assert.Equal(t, store.SLAMeet, *conv.SLAStatus)
}

func TestRecordFirstResponse_NoReplyIsNoOp(t *testing.T) {
	s := createTestStore(t)
	tr := New(s, defaultThresholds(), nil, nil)
	ctx := context.Background()

	createConversation(t, s, "conv-1", time.Now())

	require.NoError(t, tr.RecordFirstResponse(ctx, "conv-1"))

	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, conv.FirstResponseAt)
	assert.Nil(t, conv.SLAStatus)
}

func TestRecordFirstResponse_MissingConversation(t *testing.T) {
	s := createTestStore(t)
	tr := New(s, defaultThresholds(), nil, nil)

	err := tr.RecordFirstResponse(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordResolution_MeetRequiresBothWithinThreshold(t *testing.T) {
	s := createTestStore(t)
	tr := New(s, defaultThresholds(), nil, nil)
	ctx := context.Background()

	created := time.Now().Add(-5 * time.Minute).Truncate(time.Second)
	createConversation(t, s, "conv-1", created)
	saveOperatorReply(t, s, "conv-1", "m1", created.Add(10*time.Second))

	require.NoError(t, tr.RecordFirstResponse(ctx, "conv-1"))
	closeConversation(t, s, "conv-1")
	require.NoError(t, tr.RecordResolution(ctx, "conv-1"))

	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv.ResolutionSecs)
	assert.Equal(t, store.SLAMeet, *conv.SLAStatus)
}

func TestRecordResolution_SlowCloseBreaches(t *testing.T) {
	s := createTestStore(t)
	tr := New(s, defaultThresholds(), nil, nil)
	ctx := context.Background()

	created := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	createConversation(t, s, "conv-1", created)
	saveOperatorReply(t, s, "conv-1", "m1", created.Add(10*time.Second))

	require.NoError(t, tr.RecordFirstResponse(ctx, "conv-1"))
	closeConversation(t, s, "conv-1")
	require.NoError(t, tr.RecordResolution(ctx, "conv-1"))

	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, store.SLABreach, *conv.SLAStatus)
}

func TestRecordResolution_ClosedWithoutReplyBreaches(t *testing.T) {
	s := createTestStore(t)
	tr := New(s, defaultThresholds(), nil, nil)
	ctx := context.Background()

	created := time.Now().Add(-time.Minute).Truncate(time.Second)
	createConversation(t, s, "conv-1", created)
	closeConversation(t, s, "conv-1")

	// Fast close, but no operator ever replied
	require.NoError(t, tr.RecordResolution(ctx, "conv-1"))

	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv.SLAStatus)
	assert.Equal(t, store.SLABreach, *conv.SLAStatus)
}

func TestRecordFirstResponse_AfterResolutionKeepsCombinedStatus(t *testing.T) {
	s := createTestStore(t)
	tr := New(s, defaultThresholds(), nil, nil)
	ctx := context.Background()

	// Operator replied in time, but the first-response recording was lost;
	// the close arrives and resolution is recorded first
	created := time.Now().Add(-10 * time.Minute).Truncate(time.Second)
	createConversation(t, s, "conv-1", created)
	saveOperatorReply(t, s, "conv-1", "m1", created.Add(42*time.Second))
	closeConversation(t, s, "conv-1")

	require.NoError(t, tr.RecordResolution(ctx, "conv-1"))
	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv.SLAStatus)
	require.Equal(t, store.SLABreach, *conv.SLAStatus)

	// The late first-response recording fills its own fields without
	// rewriting the already-final combined outcome
	require.NoError(t, tr.RecordFirstResponse(ctx, "conv-1"))

	conv, err = s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv.FirstResponseSecs)
	assert.EqualValues(t, 42, *conv.FirstResponseSecs)
	assert.Equal(t, store.SLABreach, *conv.SLAStatus)
}

func TestRecordResolution_NotClosedIsNoOp(t *testing.T) {
	s := createTestStore(t)
	tr := New(s, defaultThresholds(), nil, nil)
	ctx := context.Background()

	createConversation(t, s, "conv-1", time.Now())

	require.NoError(t, tr.RecordResolution(ctx, "conv-1"))

	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, conv.ResolutionSecs)
}

func TestRecheck_FillsMissedRecordings(t *testing.T) {
	s := createTestStore(t)
	tr := New(s, defaultThresholds(), nil, nil)
	ctx := context.Background()

	require.NoError(t, s.CreateOperator(ctx, &store.Operator{
		ID: "op-1", Role: store.RoleAgent, Online: true, Active: true, LastSeen: time.Now(),
	}))

	// Assigned conversation with a reply whose first-response recording
	// was lost
	created := time.Now().Add(-time.Minute).Truncate(time.Second)
	opID := "op-1"
	require.NoError(t, s.CreateConversation(ctx, &store.Conversation{
		ID: "conv-live", CustomerRef: "cust-1", Status: store.StatusOpen, CreatedAt: created,
	}))
	require.NoError(t, s.SetRouting(ctx, "conv-live",
		store.RoutingGuard{Status: store.StatusOpen, OperatorID: nil},
		store.RoutingChange{Status: store.StatusOpen, OperatorID: &opID, Handover: true}))
	saveOperatorReply(t, s, "conv-live", "m1", created.Add(20*time.Second))

	// Closed conversation whose resolution recording was lost
	createConversation(t, s, "conv-done", created)
	closeConversation(t, s, "conv-done")

	require.NoError(t, tr.Recheck(ctx))

	live, err := s.GetConversation(ctx, "conv-live")
	require.NoError(t, err)
	require.NotNil(t, live.FirstResponseSecs)
	assert.EqualValues(t, 20, *live.FirstResponseSecs)

	done, err := s.GetConversation(ctx, "conv-done")
	require.NoError(t, err)
	require.NotNil(t, done.ResolutionSecs)
	assert.Equal(t, store.SLABreach, *done.SLAStatus)

	// A second pass finds nothing left to record
	require.NoError(t, tr.Recheck(ctx))
}

func TestRecheck_SkipsAssignedWithoutReply(t *testing.T) {
	s := createTestStore(t)
	tr := New(s, defaultThresholds(), nil, nil)
	ctx := context.Background()

	require.NoError(t, s.CreateOperator(ctx, &store.Operator{
		ID: "op-1", Role: store.RoleAgent, Online: true, Active: true, LastSeen: time.Now(),
	}))

	opID := "op-1"
	createConversation(t, s, "conv-1", time.Now())
	require.NoError(t, s.SetRouting(ctx, "conv-1",
		store.RoutingGuard{Status: store.StatusOpen, OperatorID: nil},
		store.RoutingChange{Status: store.StatusOpen, OperatorID: &opID, Handover: true}))

	require.NoError(t, tr.Recheck(ctx))

	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, conv.FirstResponseAt)
	assert.Nil(t, conv.SLAStatus)
}

func TestRecordResolution_Idempotent(t *testing.T) {
	s := createTestStore(t)
	tr := New(s, defaultThresholds(), nil, nil)
	ctx := context.Background()

	created := time.Now().Add(-3 * time.Minute).Truncate(time.Second)
	createConversation(t, s, "conv-1", created)
	saveOperatorReply(t, s, "conv-1", "m1", created.Add(10*time.Second))
	require.NoError(t, tr.RecordFirstResponse(ctx, "conv-1"))
	closeConversation(t, s, "conv-1")

	require.NoError(t, tr.RecordResolution(ctx, "conv-1"))
	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	firstRecorded := *conv.ResolutionSecs

	require.NoError(t, tr.RecordResolution(ctx, "conv-1"))
	conv, err = s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, firstRecorded, *conv.ResolutionSecs)
}
