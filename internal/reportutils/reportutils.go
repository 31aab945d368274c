package reportutils

// This package exposes a number of tools that facilitate consistent
// formatting in log reports and summaries.

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/exp/constraints"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const decimalPrecision = 2

var realNumFmtPattern = "%." + strconv.Itoa(decimalPrecision) + "f"

var printer = message.NewPrinter(language.AmericanEnglish)

type realNum interface {
	constraints.Float | constraints.Integer
}

// DurationToHMS stringifies `duration` as, e.g., "1h 22m 3.23s".
// It’s a lot like Duration.String(), but with spaces between,
// and the lowest unit shown is always the second.
func DurationToHMS(duration time.Duration) string {
	hours := int(math.Floor(duration.Hours()))
	minutes := int(math.Floor(duration.Minutes())) % 60

	secs := math.Mod(duration.Seconds(), 60)

	str := FmtReal(secs) + "s"

	if hours > 0 {
		str = fmt.Sprintf("%dh %dm %s", hours, minutes, str)
	} else if minutes > 0 {
		str = fmt.Sprintf("%dm %s", minutes, str)
	}

	return str
}

// FmtReal provides a standard formatting of real numbers, with a consistent
// precision and trailing decimal zeros removed.
func FmtReal[T realNum](num T) string {
	str := printer.Sprintf(realNumFmtPattern, float64(num))

	if strings.Contains(str, ".") {
		str = strings.TrimRight(str, "0")
		str = strings.TrimSuffix(str, ".")
	}

	return str
}

// FmtCount formats an integer count with thousands separators.
func FmtCount[T constraints.Integer](count T) string {
	return humanize.Comma(int64(count))
}

// FmtRate stringifies the per-second rate of `count` over `elapsed`.
func FmtRate[T realNum](count T, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "0"
	}

	return FmtReal(float64(count) / elapsed.Seconds())
}

// FmtPercent returns a stringified percentage without a trailing `%`,
// formatted as per FmtReal(). FmtPercent also ensures that any
// percentage less than 100% is reported as something less; e.g.,
// 99.999997 doesn’t get rounded up to 100.
func FmtPercent[T, U realNum](numerator T, denominator U) string {
	str := FmtReal(100 * float64(numerator) / float64(denominator))

	if str == "100" && float64(numerator) < float64(denominator) {
		return "99." + strings.Repeat("9", decimalPrecision)
	}

	return str
}
