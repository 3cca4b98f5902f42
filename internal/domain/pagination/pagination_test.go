package pagination

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   Page
		want Page
	}{
		{Page{}, Page{Number: 1, Limit: DefaultLimit}},
		{Page{Number: -3, Limit: 5}, Page{Number: 1, Limit: 5}},
		{Page{Number: 4, Limit: 1000}, Page{Number: 4, Limit: MaxLimit}},
		{Page{Number: 92233720368547760, Limit: 100}, Page{Number: MaxNumber, Limit: 100}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Normalize())
	}
}

func TestOffset(t *testing.T) {
	assert.Equal(t, 0, Page{Number: 1, Limit: 20}.Offset())
	assert.Equal(t, 40, Page{Number: 3, Limit: 20}.Offset())
}

func TestOffset_HugePageStaysPositive(t *testing.T) {
	for _, n := range []int{92233720368547760, math.MaxInt} {
		p := Page{Number: n, Limit: MaxLimit}.Normalize()
		assert.Positive(t, p.Offset(), "page %d", n)
	}
}
