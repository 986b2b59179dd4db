package matcher

import (
	"testing"
	"time"

	"ledger-reconciliation/internal/models"
	"ledger-reconciliation/internal/sources"
	pkgerrors "ledger-reconciliation/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func declared(id, entity string, year int, amount float64) *models.SourceRecord {
	return models.NewSourceRecord(id, entity, models.Period{Year: year},
		decimal.NewFromFloat(amount), models.SourceDeclared)
}

func confirmed(id, entity string, year int, amount float64) *models.SourceRecord {
	return models.NewSourceRecord(id, entity, models.Period{Year: year},
		decimal.NewFromFloat(amount), models.SourceConfirmed)
}

func TestJoinMatchingKey(t *testing.T) {
	joined := Join(
		[]*models.SourceRecord{declared("d1", "Rossi", 2024, 1000)},
		[]*models.SourceRecord{confirmed("c1", "Rossi", 2024, 1000)},
	)

	require.Len(t, joined, 1)
	assert.Equal(t, "Rossi", joined[0].EntityKey)
	assert.True(t, joined[0].Declared.Equal(decimal.NewFromInt(1000)))
	assert.True(t, joined[0].Confirmed.Equal(decimal.NewFromInt(1000)))
	assert.True(t, joined[0].Delta.IsZero())
}

func TestJoinCompleteness(t *testing.T) {
	// Every distinct key in either source appears exactly once.
	joined := Join(
		[]*models.SourceRecord{
			declared("d1", "Rossi", 2023, 100),
			declared("d2", "Rossi", 2024, 200),
			declared("d3", "Bianchi", 2024, 300),
		},
		[]*models.SourceRecord{
			confirmed("c1", "Rossi", 2024, 200),
			confirmed("c2", "Verdi", 2024, 400),
		},
	)

	require.Len(t, joined, 4)

	seen := make(map[string]int)
	for _, record := range joined {
		seen[record.Key()]++
	}
	for key, count := range seen {
		assert.Equalf(t, 1, count, "key %s appeared %d times", key, count)
	}
}

func TestJoinDefaultZero(t *testing.T) {
	joined := Join(
		[]*models.SourceRecord{declared("d1", "Rossi", 2024, 1500)},
		[]*models.SourceRecord{confirmed("c1", "Bianchi", 2024, 900)},
	)

	require.Len(t, joined, 2)

	onlyDeclared := joined[0]
	assert.True(t, onlyDeclared.Confirmed.IsZero(), "key present only in declared gets confirmed == 0")
	assert.True(t, onlyDeclared.Delta.Equal(decimal.NewFromInt(-1500)))

	onlyConfirmed := joined[1]
	assert.True(t, onlyConfirmed.Declared.IsZero(), "key present only in confirmed gets declared == 0")
	assert.True(t, onlyConfirmed.Delta.Equal(decimal.NewFromInt(900)))
}

func TestJoinDuplicatesWithinSourceAreSummed(t *testing.T) {
	// One period may receive multiple transactions from the same feed.
	joined := Join(
		[]*models.SourceRecord{
			declared("d1", "Rossi", 2024, 1000),
			declared("d2", "Rossi", 2024, 250),
		},
		[]*models.SourceRecord{
			confirmed("c1", "Rossi", 2024, 600),
			confirmed("c2", "Rossi", 2024, 650),
		},
	)

	require.Len(t, joined, 1)
	assert.True(t, joined[0].Declared.Equal(decimal.NewFromInt(1250)))
	assert.True(t, joined[0].Confirmed.Equal(decimal.NewFromInt(1250)))
	assert.True(t, joined[0].Delta.IsZero())
}

func TestJoinOrderIsFirstAppearance(t *testing.T) {
	joined := Join(
		[]*models.SourceRecord{
			declared("d1", "Rossi", 2024, 100),
			declared("d2", "Bianchi", 2023, 100),
		},
		[]*models.SourceRecord{
			confirmed("c1", "Verdi", 2022, 100),
			confirmed("c2", "Rossi", 2024, 100),
		},
	)

	require.Len(t, joined, 3)
	// Arrival order across declared then confirmed, not chronological.
	assert.Equal(t, "Rossi", joined[0].EntityKey)
	assert.Equal(t, "Bianchi", joined[1].EntityKey)
	assert.Equal(t, "Verdi", joined[2].EntityKey)
}

func TestJoinBucketsBySideNotByList(t *testing.T) {
	// A record the repair pass reclassified carries a confirmed amount but
	// still travels in the declared source's slice. It must be summed into
	// the confirmed side.
	reclassified := confirmed("d1", "Rossi", 2024, 50)

	joined := Join([]*models.SourceRecord{reclassified}, nil)

	require.Len(t, joined, 1)
	assert.True(t, joined[0].Declared.IsZero())
	assert.True(t, joined[0].Confirmed.Equal(decimal.NewFromInt(50)))
	assert.True(t, joined[0].Delta.Equal(decimal.NewFromInt(50)))
}

func TestJoinUnobservedAmountContributesNothing(t *testing.T) {
	blank := &models.SourceRecord{
		ID:        "d1",
		EntityKey: "Rossi",
		Period:    models.Period{Year: 2024},
		SourceTag: models.SourceDeclared,
	}

	joined := Join([]*models.SourceRecord{blank}, nil)

	require.Len(t, joined, 1)
	assert.True(t, joined[0].Declared.IsZero())
	assert.True(t, joined[0].Confirmed.IsZero())
}

func TestJoinResultsDegradesOnFailedSource(t *testing.T) {
	ok := sources.FetchResult{
		Source:  models.SourceDeclared,
		Records: []*models.SourceRecord{declared("d1", "Rossi", 2024, 500)},
	}
	failed := sources.FetchResult{
		Source: models.SourceConfirmed,
		Err:    pkgerrors.SourceUnavailableError("CONFIRMED", "http://bank/records", nil),
	}

	joined := JoinResults(ok, failed)

	require.Len(t, joined, 1)
	assert.True(t, joined[0].Declared.Equal(decimal.NewFromInt(500)))
	assert.True(t, joined[0].Confirmed.IsZero())
}

func TestSortByPeriod(t *testing.T) {
	joined := []*models.JoinedRecord{
		{EntityKey: "Rossi", Period: models.Period{Year: 2024, Month: time.March}},
		{EntityKey: "Rossi", Period: models.Period{Year: 2022}},
		{EntityKey: "Bianchi", Period: models.Period{Year: 2024, Month: time.March}},
		{EntityKey: "Rossi", Period: models.Period{Year: 2023}},
	}

	SortByPeriod(joined)

	assert.Equal(t, models.Period{Year: 2022}, joined[0].Period)
	assert.Equal(t, models.Period{Year: 2023}, joined[1].Period)
	// Entity key breaks the tie within one period.
	assert.Equal(t, "Bianchi", joined[2].EntityKey)
	assert.Equal(t, "Rossi", joined[3].EntityKey)
}

func TestByEntity(t *testing.T) {
	joined := Join(
		[]*models.SourceRecord{
			declared("d1", "Rossi", 2023, 100),
			declared("d2", "Bianchi", 2023, 200),
			declared("d3", "Rossi", 2024, 300),
		},
		nil,
	)

	grouped := ByEntity(joined)

	require.Len(t, grouped, 2)
	assert.Len(t, grouped["Rossi"], 2)
	assert.Len(t, grouped["Bianchi"], 1)
}
