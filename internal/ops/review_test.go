package ops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/qafinder/internal/errors"
)

func reviewIDs(out *ReviewOutput) []int64 {
	ids := make([]int64, len(out.Items))
	for i, it := range out.Items {
		ids[i] = it.ID
	}
	return ids
}

func TestReview_DefaultExcludesAndRanking(t *testing.T) {
	database, cfg := setupStore(t)

	out, err := Review(context.Background(), database, cfg, ReviewInput{WindowInput: testWindow})
	require.NoError(t, err)

	assert.Equal(t, 3, out.Considered)
	assert.Equal(t, 2, out.Matched)
	assert.Equal(t, []int64{1, 3}, reviewIDs(out))

	top := out.Items[0]
	assert.Equal(t, 35, top.Score)
	assert.Equal(t, []string{"Low CSAT", "VIP complaint", "Empathy"}, top.Reasons)
	assert.True(t, top.Signals.Complaint)
	assert.True(t, top.Signals.HighValueTier)

	assert.Equal(t, 0, out.Items[1].Score)
	assert.Equal(t, []string{}, out.Items[1].Reasons)
}

func TestReview_EmptyExcludeDisablesDefaults(t *testing.T) {
	database, cfg := setupStore(t)

	out, err := Review(context.Background(), database, cfg, ReviewInput{
		WindowInput: testWindow,
		ExcludeTags: []string{},
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3, 2}, reviewIDs(out))
	assert.Equal(t, -20, out.Items[2].Score)
	assert.Equal(t, []string{"Easy tech-only"}, out.Items[2].Reasons)
}

func TestReview_TagFilters(t *testing.T) {
	database, cfg := setupStore(t)
	ctx := context.Background()

	out, err := Review(ctx, database, cfg, ReviewInput{
		WindowInput: testWindow,
		IncludeTags: []string{"GEMS", "crash"},
	})
	require.NoError(t, err)
	// crash is still removed by the default excludes.
	assert.Equal(t, []int64{3}, reviewIDs(out))

	out, err = Review(ctx, database, cfg, ReviewInput{
		WindowInput: testWindow,
		ExcludeTags: []string{"vip"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, reviewIDs(out))
}

func TestReview_Keywords(t *testing.T) {
	database, cfg := setupStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input ReviewInput
		want  []int64
	}{
		{"any in public text", ReviewInput{Keywords: []string{"restored", "inbox"}}, []int64{1, 3}},
		{"subject counts", ReviewInput{Keywords: []string{"gems question"}}, []int64{3}},
		{"all", ReviewInput{Keywords: []string{"coins", "unfair"}, KeywordMode: "all"}, []int64{1}},
		{"all misses", ReviewInput{Keywords: []string{"coins", "inbox"}, KeywordMode: "all"}, []int64{}},
		{"phrase", ReviewInput{Keywords: []string{"never got them"}, KeywordMode: "phrase"}, []int64{1}},
		{"regex", ReviewInput{Keywords: []string{`gem+s`}, KeywordMode: "regex"}, []int64{3}},
		{"private notes ignored", ReviewInput{Keywords: []string{"escalate"}}, []int64{}},
		{"exclude keywords", ReviewInput{ExcludeKeywords: []string{"unfair"}}, []int64{3}},
		{"markup stripped", ReviewInput{Keywords: []string{"<p>"}}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.input.WindowInput = testWindow
			out, err := Review(ctx, database, cfg, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, reviewIDs(out))
		})
	}
}

func TestReview_Limit(t *testing.T) {
	database, cfg := setupStore(t)

	out, err := Review(context.Background(), database, cfg, ReviewInput{
		WindowInput: testWindow,
		ExcludeTags: []string{},
		Limit:       1,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Matched)
	assert.Equal(t, []int64{1}, reviewIDs(out))
}

func TestReview_WeightOverrides(t *testing.T) {
	database, cfg := setupStore(t)
	cfg.Weights = map[string]int{"empathy": 50, "unknown_rule": 99}

	out, err := Review(context.Background(), database, cfg, ReviewInput{WindowInput: testWindow})
	require.NoError(t, err)
	assert.Equal(t, 80, out.Items[0].Score)
}

func TestReview_InvalidInput(t *testing.T) {
	database, cfg := setupStore(t)
	ctx := context.Background()

	_, err := Review(ctx, database, cfg, ReviewInput{WindowInput: testWindow, KeywordMode: "fuzzy"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "bad mode: %v", err)

	_, err = Review(ctx, database, cfg, ReviewInput{WindowInput: WindowInput{Days: 1000}})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "bad days: %v", err)
}

func TestReview_Deterministic(t *testing.T) {
	database, cfg := setupStore(t)
	ctx := context.Background()
	in := ReviewInput{WindowInput: testWindow, ExcludeTags: []string{}}

	first, err := Review(ctx, database, cfg, in)
	require.NoError(t, err)
	second, err := Review(ctx, database, cfg, in)
	require.NoError(t, err)
	assert.Equal(t, first.Items, second.Items)
}
