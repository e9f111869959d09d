package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/smallbiznis/booksight/internal/source"
)

func (l *DirLoader) loadCSV(ctx context.Context, path string, fn RowFunc) (int, error) {
	f, err := l.open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return 0, errors.Join(ErrSourceUnavailable, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	skipped := 0
	ordinal := 0
	for {
		if err := ctx.Err(); err != nil {
			return skipped, err
		}
		record, err := r.Read()
		if err == io.EOF {
			return skipped, nil
		}
		ordinal++
		if err != nil {
			// Structurally broken line (bare quotes etc). Skip, keep going.
			skipped++
			continue
		}
		if len(record) != len(header) {
			skipped++
			continue
		}
		fields := make(map[string]string, len(header))
		for i, col := range header {
			fields[col] = record[i]
		}
		row := source.RawRow{Source: l.tag, Kind: source.KindCustomers, Ordinal: ordinal, Fields: fields}
		if err := fn(row); err != nil {
			return skipped, err
		}
	}
}
