// Package servicetime resolves event instants to civil time in the transit
// agency's time zone and classifies them into service days.
//
// A service day runs from 02:00 local time to 01:59:59 the following calendar
// day: trips operating shortly after midnight still belong to the previous
// day's schedule.
package servicetime

import (
	"fmt"
	"strings"
	"time"

	// Lambda base images do not ship a zoneinfo database.
	_ "time/tzdata"

	"ocssaver/internal/types"
)

// Zone is the IANA zone all service-day arithmetic happens in.
const Zone = "America/New_York"

// BoundaryHour is the local hour at which a new service day begins.
const BoundaryHour = 2

// Output layouts.
const (
	// TimestampLayout mimics the prefix the legacy log uploader wrote in
	// front of every raw line: MM/DD/YY,HH:MM:SS.
	TimestampLayout = "01/02/06,15:04:05"
	// DayLayout is the ISO calendar date used for partition keys.
	DayLayout = "2006-01-02"
	// CompactDayLayout is the archive label layout.
	CompactDayLayout = "20060102"
)

var location = mustLoadZone(Zone)

func mustLoadZone(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("loading time zone %s: %v", name, err))
	}
	return loc
}

// Location returns the service time zone.
func Location() *time.Location {
	return location
}

// isoLayouts are tried in order. Layouts without a zone designator are read
// as UTC, matching how the upstream producer's runtime interpreted them.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Local parses an ISO-8601 instant and converts it to civil time in Zone.
//
// The conversion is from an absolute instant, so daylight-saving transitions
// never yield an ambiguous result: each instant has exactly one wall-clock
// reading. It fails with ErrCodeInvalidDatetime naming the input when no
// layout matches.
func Local(iso string) (time.Time, error) {
	s := strings.TrimSpace(iso)
	if s != "" {
		for _, layout := range isoLayouts {
			t, err := time.Parse(layout, s)
			if err == nil {
				return t.In(location), nil
			}
		}
	}
	return time.Time{}, types.NewAppError(types.ErrCodeInvalidDatetime, iso, nil)
}

// Day returns the service day of a civil time as an ISO date. Times before
// BoundaryHour count toward the previous calendar day.
func Day(local time.Time) string {
	return dayBefore(local, 0)
}

// PreviousDay returns the service day before the one local falls in. The
// arithmetic runs on the civil date, never on a shifted instant, so a
// trigger that fires just after a DST change still lands on the intended
// date.
func PreviousDay(local time.Time) string {
	return dayBefore(local, 1)
}

// dayBefore returns the service day n days before the service day of local.
func dayBefore(local time.Time, n int) string {
	local = local.In(location)
	y, m, d := local.Date()
	if local.Hour() < BoundaryHour {
		d--
	}
	// Noon is never inside a DST transition.
	return time.Date(y, m, d-n, 12, 0, 0, 0, location).Format(DayLayout)
}

// Timestamp formats a civil time with TimestampLayout.
func Timestamp(local time.Time) string {
	return local.In(location).Format(TimestampLayout)
}

// Compact converts an ISO service day (YYYY-MM-DD) to YYYYMMDD.
func Compact(day string) string {
	return strings.ReplaceAll(day, "-", "")
}
