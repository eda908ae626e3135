package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/querybind/internal/binder"
	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/query"
	"github.com/roach88/querybind/internal/queryir"
	"github.com/roach88/querybind/internal/semantic"
)

type color int32

type gadget struct {
	Id       int
	Name     *string
	Price    decimal.Decimal
	Rating   *float64
	Color    color
	Released edm.LocalDate
	Updated  time.Time
	Tags     []string
}

type fixture struct {
	model  *edm.Model
	gadget *edm.StructuredType
	table  *queryir.Table
	it     *semantic.RangeVariable
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := edm.NewBuilder("Shop").
		Enum(color(0), false, edm.EnumMember{Name: "Red", Value: 0}, edm.EnumMember{Name: "Item2", Value: 2}).
		Entity(gadget{}).
		Build()
	require.NoError(t, err)
	st, ok := m.StructuredType("Shop.gadget")
	require.True(t, ok)
	return &fixture{model: m, gadget: st, table: queryir.TableOf(st), it: semantic.It(st)}
}

func (f *fixture) path(t *testing.T, p string) semantic.SingleValueNode {
	t.Helper()
	n, err := semantic.ResolvePath(f.model, semantic.Ref(f.it), p)
	require.NoError(t, err)
	return n.(semantic.SingleValueNode)
}

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func day(y int, m time.Month, d int) edm.LocalDate {
	return edm.LocalDate{Year: y, Month: m, Day: d}
}

func sampleGadgets() []*gadget {
	est := time.FixedZone("EST", -5*60*60)
	return []*gadget{
		{Id: 1, Name: ptr("anvil"), Price: decimal.RequireFromString("12.5"), Rating: ptr(4.8), Color: 0,
			Released: day(2024, 3, 1), Updated: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), Tags: []string{"heavy"}},
		{Id: 2, Price: decimal.RequireFromString("3.25"), Color: 2,
			Released: day(2024, 3, 2), Updated: time.Date(2024, 3, 1, 23, 30, 0, 0, est)},
		{Id: 3, Name: ptr("bolt"), Price: decimal.NewFromInt(9), Rating: ptr(3.9), Color: 2,
			Released: day(2023, 12, 31), Updated: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Id: 4, Name: ptr("bracket"), Price: decimal.NewFromInt(9), Color: 0,
			Released: day(2024, 1, 5), Updated: time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC)},
		{Id: 5, Name: ptr("anvil"), Price: decimal.NewFromInt(20), Rating: ptr(4.1), Color: 2,
			Released: day(2024, 2, 1), Updated: time.Date(2024, 2, 1, 12, 0, 0, 123456789, time.UTC)},
	}
}

func rowsOf(gs []*gadget) []any {
	out := make([]any, len(gs))
	for i, g := range gs {
		out[i] = g
	}
	return out
}

func loadGadgets(t *testing.T, s *Store, f *fixture) []*gadget {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, f.table))
	gs := sampleGadgets()
	n, err := s.Insert(ctx, f.table, rowsOf(gs))
	require.NoError(t, err)
	require.Equal(t, int64(len(gs)), n)
	return gs
}

func quiet(target binder.Target) binder.Settings {
	s := binder.DefaultSettings()
	s.Target = target
	s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	f := newFixture(t)

	s, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	loadGadgets(t, s, f)
	s.Close()

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables, err := s.Tables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"gadget": "Shop.gadget"}, tables)

	n, err := s.Count(context.Background(), &queryir.Count{From: f.table})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	f := newFixture(t)
	loadGadgets(t, s, f)
	n, err := s.Count(context.Background(), &queryir.Count{From: f.table})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestCreateTable(t *testing.T) {
	s := createTestStore(t)
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTable(ctx, f.table))
	require.NoError(t, s.CreateTable(ctx, f.table), "creating the same table twice is a no-op")

	var ddl string
	err := s.DB().QueryRow(`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'gadget'`).Scan(&ddl)
	require.NoError(t, err)
	assert.Contains(t, ddl, `"Id" INTEGER NOT NULL`)
	assert.Contains(t, ddl, `"Name" TEXT,`)
	assert.Contains(t, ddl, `"Price" REAL NOT NULL`)
	assert.Contains(t, ddl, `"Updated" TEXT NOT NULL`)
	assert.Contains(t, ddl, `UNIQUE ("Id")`)
	assert.NotContains(t, ddl, "PRIMARY KEY")
	assert.NotContains(t, ddl, "Tags")

	changed := &queryir.Table{Name: f.table.Name, Type: f.table.Type, Columns: f.table.Columns[:2]}
	err = s.CreateTable(ctx, changed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exists with columns")

	assert.Error(t, s.CreateTable(ctx, nil))
}

func TestInsertIgnoresDuplicateKeys(t *testing.T) {
	s := createTestStore(t)
	f := newFixture(t)
	gs := loadGadgets(t, s, f)

	n, err := s.Insert(context.Background(), f.table, rowsOf(gs[:2]))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	count, err := s.Count(context.Background(), &queryir.Count{From: f.table})
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestInsertRollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, f.table))

	_, err := s.Insert(ctx, f.table, []any{&gadget{Id: 1}, "not a gadget"})
	require.Error(t, err)

	count, err := s.Count(ctx, &queryir.Count{From: f.table})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestSelectRoundTripsValues(t *testing.T) {
	s := createTestStore(t)
	f := newFixture(t)
	loadGadgets(t, s, f)

	rows, err := s.Select(context.Background(), &queryir.Select{From: f.table})
	require.NoError(t, err)
	require.Len(t, rows, 5)

	first := rows[0]
	assert.Equal(t, int64(1), first["Id"])
	assert.Equal(t, "anvil", first["Name"])
	assert.True(t, decimal.RequireFromString("12.5").Equal(first["Price"].(decimal.Decimal)))
	assert.Equal(t, 4.8, first["Rating"])
	assert.Equal(t, int64(0), first["Color"])
	assert.Equal(t, day(2024, 3, 1), first["Released"])

	second := rows[1]
	assert.Nil(t, second["Name"])
	assert.Nil(t, second["Rating"])
	assert.True(t, time.Date(2024, 3, 2, 4, 30, 0, 0, time.UTC).Equal(second["Updated"].(time.Time)))

	fifth := rows[4]
	assert.Equal(t, 123456789, fifth["Updated"].(time.Time).Nanosecond())
}

func TestSelectEmptyResultIsNotNil(t *testing.T) {
	s := createTestStore(t)
	f := newFixture(t)
	require.NoError(t, s.CreateTable(context.Background(), f.table))

	rows, err := s.Select(context.Background(), &queryir.Select{From: f.table})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestSelectRejectsUntranslatableQuery(t *testing.T) {
	s := createTestStore(t)
	f := newFixture(t)
	loadGadgets(t, s, f)

	p, err := binder.BindFilter(f.model, &semantic.FilterClause{
		Expression:    semantic.Binary(semantic.GreaterThan, &semantic.CountNode{Source: mustCollection(t, f, "Tags")}, semantic.Constant(0)),
		RangeVariable: f.it,
	}, f.gadget, quiet(binder.TargetSQL))
	require.NoError(t, err)
	q, err := queryir.NewSelect(f.table, p, nil)
	require.NoError(t, err)

	_, err = s.Select(context.Background(), q)
	require.Error(t, err)
	assert.True(t, binder.IsUnsupportedError(err))
}

func mustCollection(t *testing.T, f *fixture, p string) semantic.CollectionNode {
	t.Helper()
	n, err := semantic.ResolvePath(f.model, semantic.Ref(f.it), p)
	require.NoError(t, err)
	return n.(semantic.CollectionNode)
}

// The store and the in-memory provider answer the same bound query with
// the same rows in the same order.
func TestSelectAgreesWithInMemoryProvider(t *testing.T) {
	s := createTestStore(t)
	f := newFixture(t)
	gs := loadGadgets(t, s, f)
	ctx := context.Background()

	byName := &semantic.OrderByClause{
		Expression:    f.path(t, "Name"),
		RangeVariable: f.it,
		ThenBy:        &semantic.OrderByClause{Expression: f.path(t, "Id"), Direction: semantic.Descending, RangeVariable: f.it},
	}
	byPrice := &semantic.OrderByClause{Expression: f.path(t, "Price"), Direction: semantic.Descending, RangeVariable: f.it}

	tests := []struct {
		name   string
		filter semantic.SingleValueNode
		order  *semantic.OrderByClause
		skip   int
		top    int
		want   []int64
	}{
		{
			name:   "decimal comparison",
			filter: semantic.Binary(semantic.GreaterThan, f.path(t, "Price"), semantic.Constant(5)),
			want:   []int64{1, 3, 4, 5},
		},
		{
			name:   "null test",
			filter: semantic.Binary(semantic.Equal, f.path(t, "Name"), semantic.Null()),
			want:   []int64{2},
		},
		{
			name:   "nullable comparison drops nulls",
			filter: semantic.Binary(semantic.GreaterThanOrEqual, f.path(t, "Rating"), semantic.Constant(4)),
			want:   []int64{1, 5},
		},
		{
			name:   "string function",
			filter: semantic.Call("startswith", f.path(t, "Name"), semantic.Constant("b")),
			want:   []int64{3, 4},
		},
		{
			name:   "string ordering",
			filter: semantic.Binary(semantic.LessThan, f.path(t, "Name"), semantic.Constant("bolt")),
			want:   []int64{1, 5},
		},
		{
			name:   "enum",
			filter: semantic.Binary(semantic.Equal, f.path(t, "Color"), semantic.Constant("Item2")),
			want:   []int64{2, 3, 5},
		},
		{
			name:   "date against date-time in UTC",
			filter: semantic.Binary(semantic.Equal, f.path(t, "Released"), f.path(t, "Updated")),
			want:   []int64{1, 2, 4, 5},
		},
		{
			name:   "year of a date-time",
			filter: semantic.Binary(semantic.Equal, semantic.Call("year", f.path(t, "Updated")), semantic.Constant(2024)),
			want:   []int64{1, 2, 3, 4, 5},
		},
		{
			name:  "nulls sort first ascending",
			order: byName,
			want:  []int64{2, 5, 1, 3, 4},
		},
		{
			name:  "ties keep insertion order",
			order: byPrice,
			want:  []int64{5, 1, 3, 4, 2},
		},
		{
			name:   "filtered page",
			filter: semantic.Binary(semantic.GreaterThan, f.path(t, "Price"), semantic.Constant(5)),
			order:  byName,
			skip:   1,
			top:    2,
			want:   []int64{1, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sqlFilter, memFilter *binder.Predicate
			var sqlOrder, memOrder *binder.Ordering
			var err error
			if tt.filter != nil {
				clause := &semantic.FilterClause{Expression: tt.filter, RangeVariable: f.it}
				sqlFilter, err = binder.BindFilter(f.model, clause, f.gadget, quiet(binder.TargetSQL))
				require.NoError(t, err)
				memFilter, err = binder.BindFilter(f.model, clause, f.gadget, quiet(binder.TargetInMemory))
				require.NoError(t, err)
			}
			if tt.order != nil {
				sqlOrder, err = binder.BindOrderBy(f.model, tt.order, f.gadget, quiet(binder.TargetSQL))
				require.NoError(t, err)
				memOrder, err = binder.BindOrderBy(f.model, tt.order, f.gadget, quiet(binder.TargetInMemory))
				require.NoError(t, err)
			}

			q, err := queryir.NewSelect(f.table, sqlFilter, sqlOrder)
			require.NoError(t, err)
			mem := query.From(gs)
			if memFilter != nil {
				mem = mem.Where(memFilter)
			}
			if memOrder != nil {
				mem = mem.OrderBy(memOrder)
			}
			if tt.skip > 0 {
				q.Offset = &tt.skip
				mem = mem.Skip(tt.skip)
			}
			if tt.top > 0 {
				q.Limit = &tt.top
				mem = mem.Take(tt.top)
			}

			rows, err := s.Select(ctx, q)
			require.NoError(t, err)
			var got []int64
			for _, r := range rows {
				got = append(got, r["Id"].(int64))
			}
			assert.Equal(t, tt.want, got)

			memRows, err := mem.Rows(ctx)
			require.NoError(t, err)
			var memIDs []int64
			for _, r := range memRows {
				memIDs = append(memIDs, int64(r.(*gadget).Id))
			}
			assert.Equal(t, got, memIDs)

			if tt.skip == 0 && tt.top == 0 {
				c, err := queryir.NewCount(f.table, sqlFilter)
				require.NoError(t, err)
				n, err := s.Count(ctx, c)
				require.NoError(t, err)
				assert.Equal(t, int64(len(tt.want)), n)
			}
		})
	}
}
