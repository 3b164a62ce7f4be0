package version

import (
	"testing"

	"github.com/keenetic/opkg/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.12A", "1.12B", -1},
		{"1.2", "1.12", -1},
		{"001.1535A", "001.CIBUILDX20160919_153521", -1},
		{"1:1.12B", "2:1.12A", -1},
		{"1:1.0", "2.0", 1},
		{"0:1.0", "1.0", 0},
		{"1.0~rc1", "1.0", -1},
		{"1.0", "1.0-1", -1},
		{"1.0-2", "1.0-10", -1},
		{"1.01", "1.1", 0},
		{"2.0a", "2.0", 1},
		{"1.0+git", "1.0a", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
			assert.Equal(t, -tt.want, Compare(tt.b, tt.a))
		})
	}
}

func TestParse(t *testing.T) {
	v := Parse("3:1.2.3-r4")
	assert.Equal(t, 3, v.Epoch)
	assert.Equal(t, "1.2.3", v.Upstream)
	assert.Equal(t, "r4", v.Revision)
	assert.Equal(t, "3:1.2.3-r4", v.String())

	v = Parse("abc:1.0")
	assert.Equal(t, 0, v.Epoch)
	assert.Equal(t, "abc:1.0", v.Upstream)
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		v    string
		op   models.Operator
		ref  string
		want bool
	}{
		{"1.0", models.OpAny, "", true},
		{"1.0", models.OpEqual, "1.0", true},
		{"1.1", models.OpEqual, "1.0", false},
		{"1.0", models.OpEarlier, "2.0", true},
		{"2.0", models.OpEarlier, "2.0", false},
		{"2.0", models.OpEarlierEqual, "2.0", true},
		{"2.0", models.OpLaterEqual, "2.0", true},
		{"1.9", models.OpLaterEqual, "2.0", false},
		{"2.1", models.OpLater, "2.0", true},
		{"2.0", models.OpLater, "2.0", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Satisfies(tt.v, tt.op, tt.ref), "%s %s %s", tt.v, tt.op, tt.ref)
	}
}

func TestParseOperator(t *testing.T) {
	op, ok := ParseOperator("<")
	assert.True(t, ok)
	assert.Equal(t, models.OpEarlierEqual, op)

	op, ok = ParseOperator(">")
	assert.True(t, ok)
	assert.Equal(t, models.OpLaterEqual, op)

	_, ok = ParseOperator("=>")
	assert.False(t, ok)
}
