package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ruhusa/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRecord(t *testing.T) {
	actor := domain.Actor{ID: "emp-1", Kind: domain.ActorAgent}
	rec, err := NewRecord(EntityPTORequest, "req-1", ActionCreated, actor, map[string]any{"status": "pending", "days": 12})
	require.NoError(t, err)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", rec.ID.String())
	assert.Equal(t, "emp-1", rec.ActorID)
	assert.Equal(t, domain.ActorAgent, rec.ActorKind)
	assert.JSONEq(t, `{"status":"pending","days":12}`, string(rec.Detail))
	assert.False(t, rec.Timestamp.IsZero())

	rec, err = NewRecord(EntityReceipt, "r", ActionUploaded, actor, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(rec.Detail))

	_, err = NewRecord(EntityReceipt, "r", ActionUploaded, actor, map[string]any{"bad": make(chan int)})
	require.Error(t, err)
}

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path, discardLogger())
	require.NoError(t, err)

	actor := domain.Actor{ID: "mgr-1", Kind: domain.ActorHuman}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := NewRecord(EntityExpenseRequest, "exp-1", ActionApproved, actor, nil)
			if err == nil {
				_ = sink.Append(context.Background(), rec)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, sink.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		assert.Equal(t, "approved", line["action"])
		assert.Equal(t, "human", line["actor_kind"])
		n++
	}
	assert.Equal(t, 20, n)
}

type memAppender struct {
	recs []domain.AuditRecord
	err  error
}

func (m *memAppender) Append(_ context.Context, rec domain.AuditRecord) error {
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, rec)
	return nil
}

func TestMulti_AttemptsEverySink(t *testing.T) {
	failing := &memAppender{err: errors.New("db down")}
	ok := &memAppender{}
	m := Multi{NewStoreSink(failing, discardLogger()), NewStoreSink(ok, discardLogger()), Nop{}}

	rec, err := NewRecord(EntityToolCall, "call-1", ToolAction("submit_expense"), domain.Actor{ID: "emp-1", Kind: domain.ActorAgent}, nil)
	require.NoError(t, err)

	err = m.Append(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	require.Len(t, ok.recs, 1)
	assert.Equal(t, "tool.submit_expense", ok.recs[0].Action)
	assert.NoError(t, m.Close())
}
