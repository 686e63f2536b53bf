// Package slicing turns a (date, interval) capture configuration into an
// ordered set of time slices and builds the replay URL for each one.
package slicing

import (
	"fmt"
	"strings"
	"time"
)

// Slice is one fixed-length time window inside a day for a single channel.
type Slice struct {
	Index     int
	StartTS   time.Time
	EndTS     time.Time
	ReplayURL string
}

// DayBounds returns the local-midnight pair for a YYYY-MM-DD date string.
func DayBounds(date string, loc *time.Location) (start, end time.Time, err error) {
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("slicing: invalid date %q: %w", date, err)
	}
	start = d
	end = d.AddDate(0, 0, 1)
	return start, end, nil
}

// BuildSlices emits fixed-length slices covering [day_start, day_end],
// clipping the final slice to day_end. No network I/O.
func BuildSlices(date string, intervalMinutes int, baseURL, channel string, loc *time.Location) ([]Slice, error) {
	if intervalMinutes <= 0 {
		return nil, fmt.Errorf("slicing: interval_minutes must be positive, got %d", intervalMinutes)
	}
	dayStart, dayEnd, err := DayBounds(date, loc)
	if err != nil {
		return nil, err
	}

	step := time.Duration(intervalMinutes) * time.Minute
	var slices []Slice
	idx := 0
	for cur := dayStart; cur.Before(dayEnd); cur = cur.Add(step) {
		next := cur.Add(step)
		if next.After(dayEnd) {
			next = dayEnd
		}
		slices = append(slices, Slice{
			Index:     idx,
			StartTS:   cur,
			EndTS:     next,
			ReplayURL: BuildReplayURL(baseURL, channel, cur.Unix(), next.Unix(), "s1"),
		})
		idx++
	}
	return slices, nil
}

// BuildReplayURL builds "<base>/<channel>/b<start_ts>/e<end_ts>/replay/<stream>",
// bit-for-bit compatible with the existing NVR fleet. stream is normally "s1"
// (main stream); "s0" is only used when configuration explicitly requests
// the fallback substream.
func BuildReplayURL(baseURL, channel string, startTS, endTS int64, stream string) string {
	if stream == "" {
		stream = "s1"
	}
	base := strings.TrimRight(baseURL, "/")
	return fmt.Sprintf("%s/%s/b%d/e%d/replay/%s", base, channel, startTS, endTS, stream)
}

// ParseReplayURL inverts BuildReplayURL, recovering (base, channel, start, end).
func ParseReplayURL(url string) (base, channel string, startTS, endTS int64, err error) {
	const suffix = "/replay/"
	idx := strings.Index(url, suffix)
	if idx < 0 {
		return "", "", 0, 0, fmt.Errorf("slicing: not a replay url: %q", url)
	}
	head := url[:idx]

	// head = <base>/<channel>/b<start>/e<end>
	parts := strings.Split(head, "/")
	if len(parts) < 3 {
		return "", "", 0, 0, fmt.Errorf("slicing: malformed replay url: %q", url)
	}
	eSeg := parts[len(parts)-1]
	bSeg := parts[len(parts)-2]
	channel = parts[len(parts)-3]
	base = strings.Join(parts[:len(parts)-3], "/")

	if !strings.HasPrefix(bSeg, "b") || !strings.HasPrefix(eSeg, "e") {
		return "", "", 0, 0, fmt.Errorf("slicing: malformed slice segment in %q", url)
	}
	if _, err := fmt.Sscanf(bSeg, "b%d", &startTS); err != nil {
		return "", "", 0, 0, fmt.Errorf("slicing: bad start segment %q: %w", bSeg, err)
	}
	if _, err := fmt.Sscanf(eSeg, "e%d", &endTS); err != nil {
		return "", "", 0, 0, fmt.Errorf("slicing: bad end segment %q: %w", eSeg, err)
	}
	return base, channel, startTS, endTS, nil
}

// MinuteReplayURL substitutes the per-minute (start, end) pair into a
// coarse-slice replay URL for the minute back-fill worker.
func MinuteReplayURL(baseURL, channel string, minuteStart, minuteEnd int64) string {
	return BuildReplayURL(baseURL, channel, minuteStart, minuteEnd, "s1")
}
