package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/finledger/internal/clock"
	"github.com/smallbiznis/finledger/internal/config"
	"github.com/smallbiznis/finledger/internal/csvimport/domain"
	"github.com/smallbiznis/finledger/internal/csvimport/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc   domain.Service
	db    *gorm.DB
	clock *clock.FakeClock
}

func setup(t *testing.T, repo domain.Repository, settings config.ImportSettings) fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.LedgerEntry{}, &domain.AppSetting{}, &domain.ImportRun{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	if repo == nil {
		repo = repository.Provide()
	}
	fc := clock.NewFakeClock(testNow)
	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     repo,
		Clock:    fc,
		Settings: config.NewStaticImportSettings(settings),
	})
	return fixture{svc: svc, db: db, clock: fc}
}

func TestRunImportAggregateScenario(t *testing.T) {
	f := setup(t, nil, config.ImportSettings{})
	ctx := context.Background()

	rep, err := f.svc.RunImport(ctx, domain.ImportRequest{
		Content: "date,revenue,costs\n2024-01-15,100.00,50.00\n2024-01-15,50.00,30.00\n2024-01-16,0,0\n",
	})
	require.NoError(t, err)
	require.NotNil(t, rep)

	assert.Equal(t, domain.FormatAggregate, rep.Format)
	assert.Equal(t, 3, rep.TotalLines)
	assert.Equal(t, 2, rep.Processed)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.DatesWritten)
	assert.NotEmpty(t, rep.RunID)

	entries, err := f.svc.QueryLedger(ctx, domain.LedgerQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2024-01-15", entries[0].Date)
	assert.Equal(t, "150", entries[0].Revenue.String())
	assert.Equal(t, "80", entries[0].Costs.String())
	assert.Equal(t, "70", entries[0].Margin.String())
	assert.Equal(t, "46.7", entries[0].MarginPercentage.String())
}

func TestRunImportIsIdempotent(t *testing.T) {
	f := setup(t, nil, config.ImportSettings{})
	ctx := context.Background()
	content := "order_date,channel,order_number,quantity,unit_selling_price,unit_purchase_price\n" +
		"15/01/2024,web,A1,3,15,12\n" +
		"15/01/2024,web,A2,1,10,4\n" +
		"16/01/2024,amazon,B1,2,20,5\n"

	first, err := f.svc.RunImport(ctx, domain.ImportRequest{Content: content})
	require.NoError(t, err)
	second, err := f.svc.RunImport(ctx, domain.ImportRequest{Content: content})
	require.NoError(t, err)

	assert.Equal(t, first.DatesWritten, second.DatesWritten)
	assert.NotEqual(t, first.RunID, second.RunID)

	entries, err := f.svc.QueryLedger(ctx, domain.LedgerQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "55", entries[0].Revenue.String())
	assert.Equal(t, "40", entries[0].Costs.String())
	assert.Equal(t, "40", entries[1].Revenue.String())

	stats, err := f.svc.ChannelStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalChannels)
	assert.Equal(t, 3, stats.ImportSummary.SuccessCount)
	assert.Equal(t, 2, stats.ImportSummary.DatesProcessed)
}

func TestRunImportReplacesPreviousDay(t *testing.T) {
	f := setup(t, nil, config.ImportSettings{})
	ctx := context.Background()

	_, err := f.svc.RunImport(ctx, domain.ImportRequest{Content: "date,revenue,costs\n2024-01-15,100,40\n"})
	require.NoError(t, err)
	_, err = f.svc.RunImport(ctx, domain.ImportRequest{Content: "date,revenue,costs\n2024-01-15,10,4\n"})
	require.NoError(t, err)

	entries, err := f.svc.QueryLedger(ctx, domain.LedgerQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10", entries[0].Revenue.String())
}

func TestRunImportNoValidData(t *testing.T) {
	f := setup(t, nil, config.ImportSettings{})
	ctx := context.Background()

	rep, err := f.svc.RunImport(ctx, domain.ImportRequest{Content: "date,revenue,costs\nnot-a-date,1,1\n2024-01-15,0,0\n"})
	require.ErrorIs(t, err, domain.ErrNoValidData)
	require.NotNil(t, rep)
	assert.Equal(t, 1, rep.Errors)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 0, rep.DatesWritten)

	_, err = f.svc.ChannelStatistics(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	runs, err := f.svc.ListRuns(ctx, domain.ListRunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, domain.RunStatusFailed, runs.Runs[0].Status)
	assert.Contains(t, runs.Runs[0].Error, "no_valid_data")
}

func TestRunImportSchemaFailure(t *testing.T) {
	f := setup(t, nil, config.ImportSettings{})

	rep, err := f.svc.RunImport(context.Background(), domain.ImportRequest{Content: "date,revenue\n2024-01-15,10\n"})
	require.ErrorIs(t, err, domain.ErrUnrecognizedSchema)
	assert.Nil(t, rep)

	var schemaErr *domain.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.NotEmpty(t, schemaErr.Missing)
}

func TestRunImportEmptyDocument(t *testing.T) {
	f := setup(t, nil, config.ImportSettings{})

	_, err := f.svc.RunImport(context.Background(), domain.ImportRequest{Content: "  \n"})
	assert.ErrorIs(t, err, domain.ErrEmptyDocument)
}

type failingSettingsRepo struct {
	domain.Repository
}

func (failingSettingsRepo) UpsertSetting(context.Context, *gorm.DB, *domain.AppSetting) error {
	return errors.New("disk full")
}

func TestRunImportStoreFailureRollsBack(t *testing.T) {
	f := setup(t, failingSettingsRepo{Repository: repository.Provide()}, config.ImportSettings{})
	ctx := context.Background()

	rep, err := f.svc.RunImport(ctx, domain.ImportRequest{Content: "date,revenue,costs\n2024-01-15,100,40\n"})
	require.ErrorIs(t, err, domain.ErrStoreWriteFailed)
	require.NotNil(t, rep)
	assert.Equal(t, 1, rep.Processed)
	assert.Equal(t, 0, rep.DatesWritten)
	assert.Nil(t, rep.Totals)

	entries, err := f.svc.QueryLedger(ctx, domain.LedgerQuery{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReplayUsesStoredSource(t *testing.T) {
	f := setup(t, nil, config.ImportSettings{StoreSource: true})
	ctx := context.Background()

	first, err := f.svc.RunImport(ctx, domain.ImportRequest{Content: "date,revenue,costs\n2024-01-15,100,40\n"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	replayed, err := f.svc.Replay(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, first.Processed, replayed.Processed)
	assert.NotEqual(t, first.RunID, replayed.RunID)

	run, err := f.svc.GetRun(ctx, replayed.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSourceReplay, run.Source)
	assert.True(t, run.SourceStored)
	require.NotNil(t, run.Stats)
	assert.Equal(t, 1, run.Stats.DatesWritten)
}

func TestReplayWithoutSource(t *testing.T) {
	f := setup(t, nil, config.ImportSettings{StoreSource: false})
	ctx := context.Background()

	rep, err := f.svc.RunImport(ctx, domain.ImportRequest{Content: "date,revenue,costs\n2024-01-15,100,40\n"})
	require.NoError(t, err)

	_, err = f.svc.Replay(ctx, rep.RunID)
	assert.ErrorIs(t, err, domain.ErrSourceNotStored)

	_, err = f.svc.Replay(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	_, err = f.svc.Replay(ctx, "12345")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListRunsPaginates(t *testing.T) {
	f := setup(t, nil, config.ImportSettings{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.RunImport(ctx, domain.ImportRequest{Content: fmt.Sprintf("date,revenue,costs\n2024-01-1%d,10,1\n", i)})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	page, err := f.svc.ListRuns(ctx, domain.ListRunsRequest{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Runs, 2)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextPageToken)

	next, err := f.svc.ListRuns(ctx, domain.ListRunsRequest{PageSize: 2, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, next.Runs, 1)
	assert.False(t, next.HasMore)
	assert.True(t, next.Runs[0].StartedAt.Before(page.Runs[1].StartedAt))

	_, err = f.svc.ListRuns(ctx, domain.ListRunsRequest{PageToken: "%%%"})
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestPruneRunsDeletesInBatches(t *testing.T) {
	f := setup(t, nil, config.ImportSettings{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.RunImport(ctx, domain.ImportRequest{Content: "date,revenue,costs\n2024-01-15,10,1\n"})
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
	}

	deleted, err := f.svc.PruneRuns(ctx, testNow.Add(3*time.Hour), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	page, err := f.svc.ListRuns(ctx, domain.ListRunsRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Runs, 2)
}

func TestQueryLedgerValidation(t *testing.T) {
	f := setup(t, nil, config.ImportSettings{})
	ctx := context.Background()

	cases := []domain.LedgerQuery{
		{From: "15/01/2024"},
		{From: "2024-02-01", To: "2024-01-01"},
		{Order: "sideways"},
		{Limit: -1},
	}
	for _, q := range cases {
		_, err := f.svc.QueryLedger(ctx, q)
		if !errors.Is(err, domain.ErrInvalidQuery) {
			t.Fatalf("expected invalid query for %+v, got %v", q, err)
		}
	}

	entries, err := f.svc.QueryLedger(ctx, domain.LedgerQuery{Limit: 5000, Order: "DESC"})
	require.NoError(t, err)
	assert.NotNil(t, entries)
}

func TestRenderRunReport(t *testing.T) {
	f := setup(t, nil, config.ImportSettings{})
	ctx := context.Background()

	rep, err := f.svc.RunImport(ctx, domain.ImportRequest{Content: "date,revenue,costs\n2024-01-15,10,1\n"})
	require.NoError(t, err)

	pdf, err := f.svc.RenderRunReport(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(pdf[:4]))
}
