// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package callhistory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/arnaldorodrigues/webphone"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	path := filepath.Join(t.TempDir(), "data", "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func testRecord(id string, created time.Time) webphone.CallRecord {
	return webphone.CallRecord{
		ID:           id,
		Direction:    webphone.DirectionOutgoing,
		RemoteNumber: "1001",
		Timers: webphone.CallTimers{
			CreatedAt:  created,
			AnsweredAt: created.Add(2 * time.Second),
			HangupAt:   created.Add(32*time.Second + 400*time.Millisecond),
		},
		Outcome: webphone.CallOutcome{Kind: webphone.OutcomeLocalEnded},
	}
}

func TestStoreRecordAndList(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordCall(ctx, testRecord("a", base)))

	declined := webphone.CallRecord{
		ID:           "b",
		Direction:    webphone.DirectionIncoming,
		RemoteNumber: "1002",
		Timers: webphone.CallTimers{
			CreatedAt:  base.Add(time.Minute),
			ReceivedAt: base.Add(time.Minute),
			HangupAt:   base.Add(time.Minute + 5*time.Second),
		},
		Outcome: webphone.CallOutcome{Kind: webphone.OutcomeRejected, Reason: "declined"},
	}
	require.NoError(t, s.RecordCall(ctx, declined))

	records, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Most recent first
	assert.Equal(t, declined, records[0])
	assert.Equal(t, testRecord("a", base), records[1])
	assert.Equal(t, 30*time.Second, records[1].Timers.Duration())
	assert.True(t, records[0].Timers.AnsweredAt.IsZero())
}

func TestStoreDuplicateIgnored(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordCall(ctx, testRecord("a", base)))
	require.NoError(t, s.RecordCall(ctx, testRecord("a", base.Add(time.Hour))))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStoreListLimit(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.RecordCall(ctx, testRecord(id, base.Add(time.Duration(i)*time.Minute))))
	}

	records, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
}

func TestStoreReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	s, path := openTestStore(t)

	require.NoError(t, s.RecordCall(ctx, testRecord("a", time.Now())))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	n, err := s2.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
