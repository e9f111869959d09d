package ingest

import (
	"context"
	"errors"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/smallbiznis/booksight/internal/source"
)

// Some book feeds ship keys wrapped in Ruby-style symbol colons
// (":title:"). Repair them before decoding.
var symbolKeyPattern = regexp.MustCompile(`:(\w+):`)

func (l *DirLoader) loadYAML(ctx context.Context, path string, fn RowFunc) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Join(ErrSourceUnavailable, err)
	}
	repaired := symbolKeyPattern.ReplaceAll(raw, []byte("$1:"))

	var docs []map[string]any
	if err := yaml.Unmarshal(repaired, &docs); err != nil {
		// Try element-wise so one broken entry does not sink the file.
		var loose []yaml.Node
		if err2 := yaml.Unmarshal(repaired, &loose); err2 != nil {
			return 0, errors.Join(ErrSourceUnavailable, err)
		}
		skipped := 0
		ordinal := 0
		for i := range loose {
			if err := ctx.Err(); err != nil {
				return skipped, err
			}
			ordinal++
			var entry map[string]any
			if err := loose[i].Decode(&entry); err != nil {
				skipped++
				continue
			}
			if err := fn(l.yamlRow(entry, ordinal)); err != nil {
				return skipped, err
			}
		}
		return skipped, nil
	}

	skipped := 0
	for i, entry := range docs {
		if err := ctx.Err(); err != nil {
			return skipped, err
		}
		if entry == nil {
			skipped++
			continue
		}
		if err := fn(l.yamlRow(entry, i+1)); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

func (l *DirLoader) yamlRow(entry map[string]any, ordinal int) source.RawRow {
	fields := make(map[string]string, len(entry))
	for k, v := range entry {
		fields[k] = stringify(v)
	}
	return source.RawRow{Source: l.tag, Kind: source.KindBooks, Ordinal: ordinal, Fields: fields}
}
