package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/smallbiznis/booksight/internal/source"
)

func (l *DirLoader) loadJSONL(ctx context.Context, path string, fn RowFunc) (int, error) {
	f, err := l.open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	skipped := 0
	ordinal := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return skipped, err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		ordinal++
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			skipped++
			continue
		}
		fields := make(map[string]string, len(entry))
		for k, v := range entry {
			fields[k] = stringify(v)
		}
		row := source.RawRow{Source: l.tag, Kind: source.KindOrders, Ordinal: ordinal, Fields: fields}
		if err := fn(row); err != nil {
			return skipped, err
		}
	}
	if err := sc.Err(); err != nil {
		return skipped, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, path, err)
	}
	return skipped, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
