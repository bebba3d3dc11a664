package schema

import (
	"strconv"

	"github.com/mtgate/mtgate/errs"
)

// Timeframe is the base unit of a chart granularity.
type Timeframe int

// Supported base timeframes.
const (
	TimeframeMinutes Timeframe = iota + 1
	TimeframeDays
	TimeframeWeeks
	TimeframeMonths
)

func (tf Timeframe) String() string {
	switch tf {
	case TimeframeMinutes:
		return "minutes"
	case TimeframeDays:
		return "days"
	case TimeframeWeeks:
		return "weeks"
	case TimeframeMonths:
		return "months"
	default:
		return "timeframe(" + strconv.Itoa(int(tf)) + ")"
	}
}

type granularityKey struct {
	tf          Timeframe
	compression int
}

// granularities maps (timeframe, compression) to the terminal chart code.
var granularities = map[granularityKey]string{
	{TimeframeMinutes, 1}:   "M1",
	{TimeframeMinutes, 2}:   "M2",
	{TimeframeMinutes, 3}:   "M3",
	{TimeframeMinutes, 4}:   "M4",
	{TimeframeMinutes, 5}:   "M5",
	{TimeframeMinutes, 6}:   "M6",
	{TimeframeMinutes, 10}:  "M10",
	{TimeframeMinutes, 12}:  "M12",
	{TimeframeMinutes, 15}:  "M15",
	{TimeframeMinutes, 20}:  "M20",
	{TimeframeMinutes, 30}:  "M30",
	{TimeframeMinutes, 60}:  "H1",
	{TimeframeMinutes, 120}: "H2",
	{TimeframeMinutes, 180}: "H3",
	{TimeframeMinutes, 240}: "H4",
	{TimeframeMinutes, 360}: "H6",
	{TimeframeMinutes, 480}: "H8",
	{TimeframeMinutes, 720}: "H12",
	{TimeframeDays, 1}:      "D1",
	{TimeframeWeeks, 1}:     "W1",
	{TimeframeMonths, 1}:    "MN1",
}

// Granularity resolves the terminal chart code for a timeframe/compression
// pair, or fails when the terminal does not support the combination.
func Granularity(tf Timeframe, compression int) (string, error) {
	code, ok := granularities[granularityKey{tf, compression}]
	if !ok {
		return "", errs.New("schema", errs.CodeInvalid,
			errs.WithMessage("unsupported chart granularity"),
			errs.WithField("timeframe", tf.String()),
			errs.WithField("compression", strconv.Itoa(compression)))
	}
	return code, nil
}
