package nostr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_Matches(t *testing.T) {
	ev := &Event{
		ID:        "id1",
		Pubkey:    "pk1",
		CreatedAt: 1000,
		Kind:      30078,
		Tags:      [][]string{{"d", "sasso-abc123"}, {"t", "sasso"}},
	}

	testCases := []struct {
		desc   string
		filter Filter
		want   bool
	}{
		{"empty matches all", Filter{}, true},
		{"kind match", Filter{Kinds: []int{30078}}, true},
		{"kind mismatch", Filter{Kinds: []int{25000}}, false},
		{"kind list", Filter{Kinds: []int{25000, 30078}}, true},
		{"author match", Filter{Authors: []string{"pk1"}}, true},
		{"author mismatch", Filter{Authors: []string{"pk2"}}, false},
		{"dtag match", Filter{DTags: []string{"sasso-abc123"}}, true},
		{"dtag mismatch", Filter{DTags: []string{"sasso-zzz999"}}, false},
		{"hashtag match", Filter{Hashtags: []string{"sasso"}}, true},
		{"hashtag mismatch", Filter{Hashtags: []string{"tetris"}}, false},
		{"id match", Filter{IDs: []string{"id1"}}, true},
		{"since before", Filter{Since: 500}, true},
		{"since after", Filter{Since: 2000}, false},
		{"combined", Filter{Kinds: []int{30078}, Hashtags: []string{"sasso"}}, true},
		{"combined partial miss", Filter{Kinds: []int{30078}, Hashtags: []string{"tetris"}}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Matches(ev))
		})
	}
}
