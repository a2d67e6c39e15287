package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeDispatchAt(t *testing.T) {
	dueAt := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		moment MomentType
		value  int
		unit   TimeUnit
		want   time.Time
	}{
		{
			name:   "three days before",
			moment: Before,
			value:  3,
			unit:   Days,
			want:   time.Date(2025, 12, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "two hours after",
			moment: After,
			value:  2,
			unit:   Hours,
			want:   time.Date(2025, 12, 31, 2, 0, 0, 0, time.UTC),
		},
		{
			name:   "thirty minutes before",
			moment: Before,
			value:  30,
			unit:   Minutes,
			want:   time.Date(2025, 12, 30, 23, 30, 0, 0, time.UTC),
		},
		{
			name:   "exactly ignores offset",
			moment: Exactly,
			value:  7,
			unit:   Days,
			want:   dueAt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeDispatchAt(dueAt, tt.moment, tt.value, tt.unit)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestRuleDispatchAtDefaultRule(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	dueAt := now.AddDate(0, 1, 0)

	r := &Rule{Default: true, MomentType: Before, TimeValue: 3, TimeUnit: Days}
	assert.True(t, r.DispatchAt(dueAt, now).Equal(now), "default rules dispatch immediately")

	r.Default = false
	assert.True(t, r.DispatchAt(dueAt, now).Equal(dueAt.AddDate(0, 0, -3)))
}

func TestParseMomentType(t *testing.T) {
	for _, valid := range []string{"before", "after", "exactly"} {
		_, err := ParseMomentType(valid)
		assert.NoError(t, err)
	}

	_, err := ParseMomentType("Before")
	assert.Error(t, err)
	_, err = ParseMomentType("")
	assert.Error(t, err)
}

func TestTimeUnitDuration(t *testing.T) {
	assert.Equal(t, 5*time.Minute, Minutes.Duration(5))
	assert.Equal(t, 2*time.Hour, Hours.Duration(2))
	assert.Equal(t, 72*time.Hour, Days.Duration(3))
	assert.Equal(t, time.Duration(0), TimeUnit("weeks").Duration(1))
}
