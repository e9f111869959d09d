package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/booksight/internal/source"
)

func writeSourceFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func collect(t *testing.T, l *DirLoader, kind source.Kind) ([]source.RawRow, int) {
	t.Helper()
	var rows []source.RawRow
	skipped, err := l.Load(context.Background(), kind, func(row source.RawRow) error {
		rows = append(rows, row)
		return nil
	})
	require.NoError(t, err)
	return rows, skipped
}

func TestLoadCSV_SkipsShortRows(t *testing.T) {
	dir := t.TempDir()
	writeSourceFile(t, dir, "customers.csv",
		"id,name,address,phone,email\n"+
			"c1,Alice Smith,12 Main St,555-1234,alice@example.com\n"+
			"c2,Bob Jones\n"+
			"c3,Carol King,9 Oak Ave,555-9999,carol@example.com\n")

	rows, skipped := collect(t, NewDirLoader(dir, source.Source1), source.KindCustomers)

	require.Len(t, rows, 2)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, "c1", rows[0].Fields["id"])
	assert.Equal(t, "Carol King", rows[1].Fields["name"])
	assert.Equal(t, source.Source1, rows[0].Source)
	assert.Equal(t, source.KindCustomers, rows[0].Kind)
}

func TestLoadYAML_RepairsSymbolKeys(t *testing.T) {
	dir := t.TempDir()
	writeSourceFile(t, dir, "books.yaml",
		"- :id: b1\n"+
			"  :title: The Great Adventure\n"+
			"  :author: Jane Doe\n"+
			"- id: b2\n"+
			"  title: Plain Keys Work Too\n"+
			"  author: John Roe\n")

	rows, skipped := collect(t, NewDirLoader(dir, source.Source2), source.KindBooks)

	require.Len(t, rows, 2)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, "b1", rows[0].Fields["id"])
	assert.Equal(t, "The Great Adventure", rows[0].Fields["title"])
	assert.Equal(t, "Plain Keys Work Too", rows[1].Fields["title"])
}

func TestLoadJSONL_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	writeSourceFile(t, dir, "orders.jsonl",
		`{"user_id":"c1","book_id":"b1","quantity":2,"unit_price":"$3.50","timestamp":"2024-01-02"}`+"\n"+
			"{not json at all\n"+
			`{"user_id":"c2","book_id":"b2","quantity":1,"unit_price":"$5","timestamp":"2024-01-03"}`+"\n")

	rows, skipped := collect(t, NewDirLoader(dir, source.Source1), source.KindOrders)

	require.Len(t, rows, 2)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, "c1", rows[0].Fields["user_id"])
	assert.Equal(t, "2", rows[0].Fields["quantity"])
	assert.Equal(t, "b2", rows[1].Fields["book_id"])
}

func TestLoad_MissingFileIsSourceUnavailable(t *testing.T) {
	l := NewDirLoader(t.TempDir(), source.Source3)

	_, err := l.Load(context.Background(), source.KindCustomers, func(source.RawRow) error { return nil })
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestLoad_ContextCancellationStopsScan(t *testing.T) {
	dir := t.TempDir()
	writeSourceFile(t, dir, "customers.csv", "id,name\nc1,Alice\nc2,Bob\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDirLoader(dir, source.Source1).Load(ctx, source.KindCustomers, func(source.RawRow) error { return nil })
	assert.Error(t, err)
}
