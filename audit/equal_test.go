package audit

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShallowEqual(t *testing.T) {
	m := map[string]any{"a": 1}
	s := []int{1, 2}
	now := time.Now()

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"both nil", nil, nil, true},
		{"nil vs value", nil, "", false},
		{"same string", "a", "a", true},
		{"different string", "a", "b", false},
		{"int vs float same value", 3, 3.0, true},
		{"int64 vs int", int64(7), 7, true},
		{"negative int vs uint", -1, uint(1), false},
		{"uint vs int", uint8(4), 4, true},
		{"NaN never equal", math.NaN(), math.NaN(), false},
		{"string vs number", "1", 1, false},
		{"bool", true, true, true},
		{"same map identity", m, m, true},
		{"equal maps distinct", map[string]any{"a": 1}, map[string]any{"a": 1}, false},
		{"same slice identity", s, s, true},
		{"equal slices distinct", []int{1, 2}, []int{1, 2}, false},
		{"times", now, now, true},
		{"struct holding incomparable", struct{ V any }{[]int{1}}, struct{ V any }{[]int{1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shallowEqual(tt.a, tt.b))
		})
	}
}
