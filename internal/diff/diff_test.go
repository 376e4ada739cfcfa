package diff

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CreatorScanner/internal/domain"
)

type knownIDs map[string]bool

func (k knownIDs) Known(_ context.Context, _ int64, ids []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, id := range ids {
		if k[id] {
			out[id] = true
		}
	}
	return out, nil
}

type brokenKnown struct{}

func (brokenKnown) Known(context.Context, int64, []string) (map[string]bool, error) {
	return nil, domain.ErrStorage
}

func TestDiffStopsAtFirstKnownID(t *testing.T) {
	t.Parallel()

	e := New(knownIDs{"3": true, "2": true, "1": true})
	res, err := e.Diff(context.Background(), 1, []string{"5", "4", "3", "2", "1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "4"}, res.NewIDs)
	assert.False(t, res.Continue)
}

func TestDiffEmptyHistoryReturnsEverything(t *testing.T) {
	t.Parallel()

	e := New(knownIDs{})
	observed := []string{"5", "4", "3", "2", "1"}
	res, err := e.Diff(context.Background(), 1, observed)
	require.NoError(t, err)
	assert.Equal(t, observed, res.NewIDs)
	assert.True(t, res.Continue)
}

func TestDiffFullScanSkipsKnownWithoutStopping(t *testing.T) {
	t.Parallel()

	e := New(knownIDs{"4": true, "2": true}, WithFullScan(true))
	assert.True(t, e.FullScan())

	res, err := e.Diff(context.Background(), 1, []string{"5", "4", "3", "2", "1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "3", "1"}, res.NewIDs)
	assert.True(t, res.Continue)
}

func TestDiffEdgeCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		known    knownIDs
		observed []string
		want     []string
		cont     bool
	}{
		{name: "empty page ends listing", known: knownIDs{}, observed: nil, want: nil, cont: false},
		{name: "newest already known", known: knownIDs{"9": true}, observed: []string{"9", "8"}, want: nil, cont: false},
		{name: "duplicates reported once", known: knownIDs{}, observed: []string{"7", "7", "6"}, want: []string{"7", "6"}, cont: true},
		{name: "padded known id stops", known: knownIDs{"8": true}, observed: []string{" 9", "8 ", "7"}, want: []string{"9"}, cont: false},
		{name: "padded duplicates collapse", known: knownIDs{}, observed: []string{"7", " 7\t", "6"}, want: []string{"7", "6"}, cont: true},
		{name: "blank ids dropped", known: knownIDs{}, observed: []string{" ", "6", ""}, want: []string{"6"}, cont: true},
		{name: "only blank ids", known: knownIDs{}, observed: []string{" "}, want: nil, cont: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := New(tt.known).Diff(context.Background(), 1, tt.observed)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.NewIDs)
			assert.Equal(t, tt.cont, res.Continue)
		})
	}
}

func TestDiffPropagatesLookupFailure(t *testing.T) {
	t.Parallel()

	_, err := New(brokenKnown{}).Diff(context.Background(), 1, []string{"1"})
	require.True(t, errors.Is(err, domain.ErrStorage))
}
