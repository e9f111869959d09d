package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/booksight/internal/clock"
	"github.com/smallbiznis/booksight/internal/config"
	"github.com/smallbiznis/booksight/internal/ingest"
	"github.com/smallbiznis/booksight/internal/observability/metrics"
	"github.com/smallbiznis/booksight/internal/source"
	storedomain "github.com/smallbiznis/booksight/internal/store/domain"
	"github.com/smallbiznis/booksight/internal/store/repository"
)

// countingLoader counts Load invocations so tests can prove the cached
// path never touches the sources.
type countingLoader struct {
	inner ingest.Loader
	calls *atomic.Int64
}

func (c *countingLoader) Load(ctx context.Context, kind source.Kind, fn ingest.RowFunc) (int, error) {
	c.calls.Add(1)
	return c.inner.Load(ctx, kind, fn)
}

type testHarness struct {
	coordinator *Coordinator
	cfg         config.Config
	loadCalls   *atomic.Int64
	gateway     storedomain.Gateway
	recorder    *metrics.Recorder
}

func writeFixture(t *testing.T, root string) {
	t.Helper()
	files := map[string]string{
		"S1/customers.csv": "id,name,address,phone,email\n" +
			"c100,Alice Smith,12 Main St,555-123-4567,alice@example.com\n" +
			"c101,Bob Jones,9 Oak Ave,555-222-3333,bob@example.com\n",
		"S2/customers.csv": "customer_id,full_name,addr,phone_number,email_address\n" +
			"cust-42,Alice Smith,12 Main Street,,ALICE@example.com\n",
		"S3/customers.csv": "uid,customer,street_address,contact,mail\n",
		"S1/books.yaml": "- id: b1\n" +
			"  title: The Great Adventure\n" +
			"  author: Jane Doe\n" +
			"  publisher: Acme\n" +
			"  year: 2020\n" +
			"  genre: Fiction\n",
		"S2/books.yaml": "- :book_id: bk-9\n" +
			"  :book_title: The Great Adventure\n" +
			"  :authors: Jane Doe\n" +
			"  :publisher_name: Acme\n" +
			"  :published: 2020\n" +
			"  :category: Fiction\n",
		"S3/books.yaml": "",
		"S1/orders.jsonl": `{"user_id":"c100","book_id":"b1","quantity":2,"unit_price":"$3.50","timestamp":"2024-01-02 10:00:00"}` + "\n" +
			`{"user_id":"c100","book_id":"zzz","quantity":1,"unit_price":"$5.00","timestamp":"2024-01-03"}` + "\n" +
			"not-json\n",
		"S2/orders.jsonl": `{"uid":"cust-42","book":"bk-9","qty":1,"price":"€10","order_ts":"03/01/24"}` + "\n",
		"S3/orders.jsonl": "",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func newHarness(t *testing.T, gateway storedomain.Gateway) *testHarness {
	t.Helper()
	root := t.TempDir()
	writeFixture(t, root)

	cfg := config.Config{SourceRoot: root}
	if gateway == nil {
		dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
		require.NoError(t, err)
		gateway, err = repository.Provide(db, zap.NewNop())
		require.NoError(t, err)
	}

	calls := &atomic.Int64{}
	loaders := make(ingest.Set)
	for tag, l := range ingest.NewSet(cfg) {
		loaders[tag] = &countingLoader{inner: l, calls: calls}
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	recorder := metrics.New()
	coordinator := New(Params{
		Config:   cfg,
		Matching: config.NewStaticMatchingHolder(config.DefaultMatchingConfig()),
		Loaders:  loaders,
		Gateway:  gateway,
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
		Recorder: recorder,
		GenID:    node,
	})
	return &testHarness{coordinator: coordinator, cfg: cfg, loadCalls: calls, gateway: gateway, recorder: recorder}
}

// counterValue reads one labeled counter off the recorder's registry.
func counterValue(t *testing.T, rec *metrics.Recorder, name, labelName, labelValue string) float64 {
	t.Helper()
	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == labelName && lp.GetValue() == labelValue {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRun_EndToEnd(t *testing.T) {
	h := newHarness(t, nil)

	result, err := h.coordinator.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Summary.Cached)
	assert.Equal(t, 1, result.Summary.RowsSkipped)
	assert.Equal(t, 0, result.Summary.NormalizationErrors)
	assert.Equal(t, 1, result.Summary.UnresolvedLinks)

	// Three raw customer records, two real people.
	report := result.Report
	assert.Equal(t, 2, report.UniqueCustomerCount)
	assert.Equal(t, 1, report.UniqueAuthorCount)

	require.Len(t, report.TopRevenueDays, 2)
	assert.Equal(t, "2024-03-01", report.TopRevenueDays[0].Date)
	assert.True(t, report.TopRevenueDays[0].Revenue.Equal(decimal.RequireFromString("12")),
		"EUR order converts at the fixed rate, got %s", report.TopRevenueDays[0].Revenue)
	assert.Equal(t, "2024-01-02", report.TopRevenueDays[1].Date)
	assert.True(t, report.TopRevenueDays[1].Revenue.Equal(decimal.RequireFromString("7.00")))

	require.NotNil(t, report.MostPopularAuthor)
	assert.Equal(t, "Jane Doe", report.MostPopularAuthor.Name)
	assert.Equal(t, 2, report.MostPopularAuthor.BooksSold)

	require.NotNil(t, report.TopCustomer)
	assert.Equal(t, "Alice Smith", report.TopCustomer.Name)
	assert.Equal(t, []string{"S1:c100", "S2:cust-42"}, report.TopCustomer.LinkedIDs)
	assert.True(t, report.TopCustomer.TotalSpent.Equal(decimal.RequireFromString("19.00")))

	// 3 sources x 3 record kinds.
	assert.Equal(t, int64(9), h.loadCalls.Load())
}

func TestRun_UnchangedInputServesCachedMetrics(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.coordinator.Run(ctx)
	require.NoError(t, err)
	require.False(t, first.Summary.Cached)
	callsAfterFirst := h.loadCalls.Load()

	second, err := h.coordinator.Run(ctx)
	require.NoError(t, err)
	assert.True(t, second.Summary.Cached)
	assert.Equal(t, first.Summary.Fingerprint, second.Summary.Fingerprint)
	assert.Equal(t, callsAfterFirst, h.loadCalls.Load(), "cached run must not touch the loaders")

	assert.Equal(t, first.Report.UniqueCustomerCount, second.Report.UniqueCustomerCount)
	assert.Equal(t, first.Report.UniqueAuthorCount, second.Report.UniqueAuthorCount)
	require.Len(t, second.Report.TopRevenueDays, len(first.Report.TopRevenueDays))
	for i := range first.Report.TopRevenueDays {
		assert.Equal(t, first.Report.TopRevenueDays[i].Date, second.Report.TopRevenueDays[i].Date)
		assert.True(t, first.Report.TopRevenueDays[i].Revenue.Equal(second.Report.TopRevenueDays[i].Revenue))
	}
	require.NotNil(t, second.Report.TopCustomer)
	assert.Equal(t, first.Report.TopCustomer.LinkedIDs, second.Report.TopCustomer.LinkedIDs)
}

func TestRun_ChangedInputRecomputes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.coordinator.Run(ctx)
	require.NoError(t, err)

	path := filepath.Join(h.cfg.SourceRoot, "S1", "orders.jsonl")
	extra := `{"user_id":"c101","book_id":"b1","quantity":1,"unit_price":"$2.00","timestamp":"2024-01-05"}` + "\n"
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(content, extra...), 0o644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	second, err := h.coordinator.Run(ctx)
	require.NoError(t, err)
	assert.False(t, second.Summary.Cached)
	assert.NotEqual(t, first.Summary.Fingerprint, second.Summary.Fingerprint)
	require.NotNil(t, second.Report.TopCustomer)
}

// blockingGateway parks SaveRun until released so a second trigger can
// arrive while the first run is still in flight.
type blockingGateway struct {
	storedomain.Gateway

	saveEntered chan struct{}
	release     chan struct{}
	once        sync.Once
}

func (g *blockingGateway) SaveRun(ctx context.Context, run storedomain.RunArtifacts) error {
	g.once.Do(func() { close(g.saveEntered) })
	<-g.release
	return g.Gateway.SaveRun(ctx, run)
}

func TestRun_ConcurrentTriggersShareOneExecution(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	inner, err := repository.Provide(db, zap.NewNop())
	require.NoError(t, err)

	gw := &blockingGateway{
		Gateway:     inner,
		saveEntered: make(chan struct{}),
		release:     make(chan struct{}),
	}
	h := newHarness(t, gw)

	results := make(chan *Result, 2)
	errs := make(chan error, 2)
	run := func() {
		r, err := h.coordinator.Run(context.Background())
		results <- r
		errs <- err
	}

	go run()
	<-gw.saveEntered

	go run()
	time.Sleep(50 * time.Millisecond)
	close(gw.release)

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
		require.NotNil(t, <-results)
	}
	assert.Equal(t, int64(9), h.loadCalls.Load(), "the second trigger must share the in-flight run")
}

type failingGateway struct {
	storedomain.Gateway
}

func (failingGateway) SaveRun(context.Context, storedomain.RunArtifacts) error {
	return errors.New("disk full")
}

func TestRun_FailedRunCountedOnce(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	inner, err := repository.Provide(db, zap.NewNop())
	require.NoError(t, err)

	h := newHarness(t, failingGateway{Gateway: inner})

	_, err = h.coordinator.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, float64(1), counterValue(t, h.recorder, "booksight_runs_total", "outcome", "failed"))
}

func TestRun_MissingSourceFailsTheRun(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, os.RemoveAll(filepath.Join(h.cfg.SourceRoot, "S2")))

	_, err := h.coordinator.Run(context.Background())
	assert.True(t, errors.Is(err, ingest.ErrSourceUnavailable))
}
