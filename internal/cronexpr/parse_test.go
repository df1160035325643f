package cronexpr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassifiesTokens(t *testing.T) {
	expr, err := Parse("0 0/5 1-3 1,15 */2 ?")
	require.NoError(t, err)

	assert.True(t, expr.Field(Second).Equal(LiteralPattern(0)))
	assert.True(t, expr.Field(Minute).Equal(StepPattern(0, 5)))
	assert.True(t, expr.Field(Hour).Equal(RangePattern(1, 3)))
	assert.True(t, expr.Field(DayOfMonth).Equal(ListPattern(1, 15)))
	assert.True(t, expr.Field(Month).Equal(StepPattern(0, 2)))
	assert.True(t, expr.Field(DayOfWeek).Equal(WildcardPattern()))
}

func TestParseNormalizesWhitespace(t *testing.T) {
	expr, err := Parse("  0\t0   *  * * *\n")
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * * *", expr.Source())
}

func TestParseWrongFieldCount(t *testing.T) {
	for _, source := range []string{"", "0 0 * *", "0 0 * * *", "0 0 * * * * *"} {
		_, err := Parse(source)
		require.Error(t, err, source)
		assert.ErrorIs(t, err, ErrWrongFieldCount, source)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, ReasonWrongFieldCount, verr.Reason)
	}
}

func TestParseRejectsMalformedTokens(t *testing.T) {
	cases := []struct {
		source string
		reason Reason
		field  Field
	}{
		{"0 1,x * * * *", ReasonInvalidListMember, Minute},
		{"0 1-3,5 * * * *", ReasonInvalidListMember, Minute},
		{"0 0 5-1 * * *", ReasonInvalidRange, Hour},
		{"0 0 a-b * * *", ReasonInvalidRange, Hour},
		{"0 0 1-2-3 * * *", ReasonInvalidRange, Hour},
		{"0 0 -5 * * *", ReasonInvalidRange, Hour},
		{"0 */0 * * * *", ReasonInvalidStep, Minute},
		{"0 */x * * * *", ReasonInvalidStep, Minute},
		{"0 x/5 * * * *", ReasonInvalidStep, Minute},
		{"0 5/ * * * *", ReasonInvalidStep, Minute},
		{"0 1/2/3 * * * *", ReasonInvalidStep, Minute},
		{"abc 0 * * * *", ReasonInvalidLiteral, Second},
		{"0 0 * * * MON", ReasonInvalidLiteral, DayOfWeek},
		{"0 0 * L * *", ReasonInvalidLiteral, DayOfMonth},
		{"0 0 99 * * *", ReasonOutOfDomain, Hour},
		{"60 * * * * *", ReasonOutOfDomain, Second},
		{"0 0 0 0 * *", ReasonOutOfDomain, DayOfMonth},
		{"0 0 0 * 13 *", ReasonOutOfDomain, Month},
		{"0 0 0 * 0 *", ReasonOutOfDomain, Month},
		{"0 0 0 * * 7", ReasonOutOfDomain, DayOfWeek},
		{"0 0 0 * * 1,9", ReasonOutOfDomain, DayOfWeek},
		{"0 0 20-25 * * *", ReasonOutOfDomain, Hour},
		{"0 70/5 * * * *", ReasonOutOfDomain, Minute},
	}
	for _, tc := range cases {
		t.Run(tc.source, func(t *testing.T) {
			result := Validate(tc.source)
			require.False(t, result.Valid())
			assert.Equal(t, tc.reason, result.Reason())
			assert.Equal(t, tc.field, result.Err.Field)
		})
	}
}

// Range detection comes before step detection, so a stepped range is read as
// a range whose end is not a number.
func TestParseSteppedRangeIsInvalidRange(t *testing.T) {
	result := Validate("0 1-5/2 * * * *")
	require.False(t, result.Valid())
	assert.Equal(t, ReasonInvalidRange, result.Reason())
	assert.ErrorIs(t, result.Err, ErrInvalidRange)
}

func TestParseListIsSortedAndDeduplicated(t *testing.T) {
	expr, err := Parse("30,0,30,15 * * * * *")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 15, 30}, expr.Field(Second).Values)
}

func TestFieldReturnsCopyOfList(t *testing.T) {
	expr := MustParse("1,2 * * * * *")
	values := expr.Field(Second).Values
	values[0] = 42
	assert.Equal(t, []int{1, 2}, expr.Field(Second).Values)
}

func TestValidationErrorMessage(t *testing.T) {
	_, err := Parse("0 0 25 * * *")
	require.Error(t, err)
	assert.Equal(t, `hour field: value out of range "25" (allowed 0-23)`, err.Error())

	_, err = Parse("0 0 * *")
	require.Error(t, err)
	assert.Equal(t, "cron expression must have 6 fields, got 4", err.Error())
}

func TestMustParsePanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { MustParse("nope") })
}
