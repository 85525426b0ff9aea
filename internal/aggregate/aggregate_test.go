package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwlsn/crfhunt/internal/errs"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name   string
		values []int
		policy Policy
		want   int
	}{
		{"minimum of three clips", []int{30, 32, 31}, Minimum, 30},
		{"average of three clips", []int{30, 32, 31}, Average, 31},
		{"average truncates", []int{30, 31}, Average, 30},
		{"average truncates high remainder", []int{30, 32, 32}, Average, 31},
		{"single value minimum", []int{44}, Minimum, 44},
		{"single value average", []int{44}, Average, 44},
		{"minimum not first", []int{40, 35, 50, 36}, Minimum, 35},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Aggregate(tt.values, tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	for _, p := range []Policy{Minimum, Average} {
		t.Run(p.String(), func(t *testing.T) {
			_, err := Aggregate(nil, p)
			assert.ErrorIs(t, err, errs.ErrEmptyInput)

			_, err = Aggregate([]int{}, p)
			assert.ErrorIs(t, err, errs.ErrEmptyInput)
		})
	}
}

func TestAggregateUnknownPolicy(t *testing.T) {
	_, err := Aggregate([]int{1}, Policy(7))
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", Minimum, false},
		{"smallest", Minimum, false},
		{"Minimum", Minimum, false},
		{"average", Average, false},
		{" AVG ", Average, false},
		{"median", Minimum, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolicyString(t *testing.T) {
	assert.Equal(t, "smallest", Minimum.String())
	assert.Equal(t, "average", Average.String())
	assert.Equal(t, "Policy(9)", Policy(9).String())
}

func TestSummarize(t *testing.T) {
	s, err := Summarize([]int{30, 32, 31}, Average)
	require.NoError(t, err)

	assert.Equal(t, 30, s.Minimum)
	assert.Equal(t, 31, s.Average)
	assert.Equal(t, 31, s.Selected)
	assert.Equal(t, Average, s.Policy)

	_, err = Summarize(nil, Minimum)
	assert.ErrorIs(t, err, errs.ErrEmptyInput)
}
