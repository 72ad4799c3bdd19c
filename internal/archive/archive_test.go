package archive

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ringline-ai/ringline/pkg/types"
)

// ---------------------------------------------------------------------------
// Mock DB
// ---------------------------------------------------------------------------

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	return scanInto(dest, r.data[r.idx-1])
}

func scanInto(dest []any, row []any) error {
	if len(dest) != len(row) {
		return errors.New("scan: column count mismatch")
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int64:
			*d = v.(int64)
		case *[]byte:
			*d = v.([]byte)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return errors.New("scan: unsupported destination type")
		}
	}
	return nil
}

type mockDB struct {
	execSQL  []string
	execArgs [][]any
	execErr  error

	row  *mockRow
	rows *mockRows
}

func (m *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execSQL = append(m.execSQL, sql)
	m.execArgs = append(m.execArgs, args)
	return pgconn.CommandTag{}, m.execErr
}

func (m *mockDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	return m.row
}

func (m *mockDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	return m.rows, nil
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func sampleTranscript() types.Transcript {
	return types.Transcript{
		TenantID: "acme",
		CallID:   "cc-1",
		CallerID: "+15550111",
		Duration: 42 * time.Second,
		Turns: []types.Turn{
			{Role: types.RoleUser, Content: "hi"},
			{Role: types.RoleAssistant, Content: "hello"},
		},
	}
}

func TestSave_WritesRow(t *testing.T) {
	db := &mockDB{}
	s := NewStore(db)

	if err := s.Save(context.Background(), sampleTranscript(), "caller_hangup"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(db.execSQL) != 1 {
		t.Fatalf("got %d execs; want 1", len(db.execSQL))
	}
	if !strings.Contains(db.execSQL[0], "INSERT INTO call_transcripts") {
		t.Errorf("unexpected SQL: %s", db.execSQL[0])
	}
	args := db.execArgs[0]
	if args[0] != "cc-1" || args[1] != "acme" || args[3] != "caller_hangup" {
		t.Errorf("args = %v", args)
	}
	if got := args[4].(int64); got != 42000 {
		t.Errorf("duration_ms = %d; want 42000", got)
	}
	var turns []types.Turn
	if err := json.Unmarshal(args[5].([]byte), &turns); err != nil || len(turns) != 2 {
		t.Errorf("turns json = %s (err %v)", args[5], err)
	}
}

func TestSave_NilTurnsMarshalsEmptyArray(t *testing.T) {
	db := &mockDB{}
	s := NewStore(db)

	tr := sampleTranscript()
	tr.Turns = nil
	if err := s.Save(context.Background(), tr, "dead_air"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := string(db.execArgs[0][5].([]byte)); got != "[]" {
		t.Errorf("turns json = %s; want []", got)
	}
}

func TestSave_MissingCallID(t *testing.T) {
	s := NewStore(&mockDB{})
	tr := sampleTranscript()
	tr.CallID = ""
	if err := s.Save(context.Background(), tr, "x"); err == nil {
		t.Error("Save without call id succeeded")
	}
}

func TestGet_UnknownCallReturnsNil(t *testing.T) {
	db := &mockDB{row: &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}}
	s := NewStore(db)

	rec, err := s.Get(context.Background(), "cc-nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Errorf("rec = %+v; want nil", rec)
	}
}

func TestGet_ScansRecord(t *testing.T) {
	turnsJSON, _ := json.Marshal([]types.Turn{{Role: types.RoleUser, Content: "hi"}})
	ended := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	row := []any{"cc-1", "acme", "+15550111", "caller_hangup", int64(42000), turnsJSON, ended}
	db := &mockDB{row: &mockRow{scanFunc: func(dest ...any) error { return scanInto(dest, row) }}}
	s := NewStore(db)

	rec, err := s.Get(context.Background(), "cc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Transcript.TenantID != "acme" || rec.Reason != "caller_hangup" {
		t.Errorf("rec = %+v", rec)
	}
	if rec.Transcript.Duration != 42*time.Second {
		t.Errorf("duration = %v; want 42s", rec.Transcript.Duration)
	}
	if len(rec.Transcript.Turns) != 1 || rec.Transcript.Turns[0].Content != "hi" {
		t.Errorf("turns = %+v", rec.Transcript.Turns)
	}
}

func TestListRecent_ScansAll(t *testing.T) {
	turnsJSON, _ := json.Marshal([]types.Turn{})
	ended := time.Now().UTC()
	db := &mockDB{rows: &mockRows{data: [][]any{
		{"cc-2", "acme", "", "caller_hangup", int64(1000), turnsJSON, ended},
		{"cc-1", "acme", "", "dead_air", int64(2000), turnsJSON, ended.Add(-time.Minute)},
	}}}
	s := NewStore(db)

	recs, err := s.ListRecent(context.Background(), "acme", 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records; want 2", len(recs))
	}
	if recs[0].Transcript.CallID != "cc-2" || recs[1].Reason != "dead_air" {
		t.Errorf("records = %+v", recs)
	}
	if !db.rows.closed {
		t.Error("rows were not closed")
	}
}

func TestMigrate_ExecutesSchema(t *testing.T) {
	db := &mockDB{}
	if err := NewStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execSQL) != 1 || !strings.Contains(db.execSQL[0], "CREATE TABLE IF NOT EXISTS call_transcripts") {
		t.Errorf("schema not applied: %v", db.execSQL)
	}
}
