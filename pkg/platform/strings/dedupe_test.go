package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitDedupeTrim(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   []string
	}{
		{name: "nil input", values: nil, want: nil},
		{name: "single value", values: []string{"tok"}, want: []string{"tok"}},
		{name: "comma separated", values: []string{"a,b , c"}, want: []string{"a", "b", "c"}},
		{name: "repeated across values", values: []string{"a, b", "b", " a "}, want: []string{"a", "b"}},
		{name: "only separators and blanks", values: []string{" , ,", ""}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitDedupeTrim(tt.values, ","))
		})
	}
}
