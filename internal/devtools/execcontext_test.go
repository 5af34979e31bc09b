package devtools

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortContexts(t *testing.T) {
	contexts := []ExecutionContext{
		{ID: 1, Locator: "chrome-extension://abc"},
		{ID: 2, Locator: "https://chat.example.com"},
		{ID: 3, Locator: "https://cdn.example.com"},
		{ID: 4, Locator: "service-worker"},
	}
	primary := regexp.MustCompile(`chat\.example`)
	secondary := regexp.MustCompile(`cdn\.example`)

	ids := func(in []ExecutionContext) []int64 {
		out := make([]int64, len(in))
		for i, ec := range in {
			out[i] = ec.ID
		}
		return out
	}

	tests := []struct {
		name               string
		primary, secondary *regexp.Regexp
		want               []int64
	}{
		{"both patterns", primary, secondary, []int64{2, 3, 1, 4}},
		{"primary only", primary, nil, []int64{2, 1, 3, 4}},
		{"no patterns keeps discovery order", nil, nil, []int64{1, 2, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SortContexts(contexts, tt.primary, tt.secondary)
			assert.Equal(t, tt.want, ids(got))
			// Input order is preserved.
			assert.Equal(t, []int64{1, 2, 3, 4}, ids(contexts))
		})
	}
}

func TestSortContextsEmpty(t *testing.T) {
	assert.Empty(t, SortContexts(nil, nil, nil))
}
