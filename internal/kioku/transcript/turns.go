package transcript

import (
	"fmt"
	"strings"
	"time"
)

// TurnSeparator joins the lines of one coalesced turn.
const TurnSeparator = "/"

const secondsPerDay = 24 * 60 * 60

// Start is the wall-clock start of a conversation.
type Start struct {
	// Date is YYYY-MM-DD.
	Date string
	// Seconds is the time of day in seconds after midnight.
	Seconds int
}

// Time formats the start time of day as HH:MM:SS.
func (s Start) Time() string {
	return formatClock(int64(s.Seconds))
}

// ParseStart validates a conversation start. date must be YYYY-MM-DD and
// clock HH:MM or HH:MM:SS.
func ParseStart(date, clock string) (Start, error) {
	d, err := time.Parse("2006-01-02", strings.TrimSpace(date))
	if err != nil {
		return Start{}, fmt.Errorf("transcript: invalid date %q, want YYYY-MM-DD", date)
	}

	clock = strings.TrimSpace(clock)
	var t time.Time
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err = time.Parse(layout, clock); err == nil {
			break
		}
	}
	if err != nil {
		return Start{}, fmt.Errorf("transcript: invalid time %q, want HH:MM or HH:MM:SS", clock)
	}

	return Start{
		Date:    d.Format("2006-01-02"),
		Seconds: t.Hour()*3600 + t.Minute()*60 + t.Second(),
	}, nil
}

// ClockTime returns start plus floor(offsetMillis/1000) seconds as
// HH:MM:SS, wrapping at midnight. ClockDate gives the matching date.
func ClockTime(start Start, offsetMillis int64) string {
	total := (int64(start.Seconds) + offsetMillis/1000) % secondsPerDay
	if total < 0 {
		total += secondsPerDay
	}
	return formatClock(total)
}

// ClockDate returns the YYYY-MM-DD date reached offsetMillis after start:
// the start date advanced by one day per midnight crossed.
func ClockDate(start Start, offsetMillis int64) string {
	days := (int64(start.Seconds) + offsetMillis/1000) / secondsPerDay
	if days == 0 {
		return start.Date
	}
	d, err := time.Parse("2006-01-02", start.Date)
	if err != nil {
		return start.Date
	}
	return d.AddDate(0, 0, int(days)).Format("2006-01-02")
}

func formatClock(seconds int64) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}

// Turn is a run of consecutive complete entries by one speaker.
type Turn struct {
	Speaker string
	Texts   []string
	// Text is Texts joined with TurnSeparator.
	Text string
	// Offset is the start offset of the turn's first entry in milliseconds.
	Offset int64
	// Date and Time locate the turn's first entry on the calendar.
	Date string
	Time string
}

// Coalesce groups consecutive complete entries sharing a speaker label.
// Incomplete entries are skipped without breaking a run. Each turn is
// stamped with the offset of its first entry.
func Coalesce(entries []Entry, start Start) []Turn {
	var (
		turns []Turn
		cur   *Turn
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = strings.Join(cur.Texts, TurnSeparator)
		cur.Date = ClockDate(start, cur.Offset)
		cur.Time = ClockTime(start, cur.Offset)
		turns = append(turns, *cur)
		cur = nil
	}

	for _, e := range entries {
		if !e.Complete() {
			continue
		}
		if cur != nil && cur.Speaker == e.Speaker {
			cur.Texts = append(cur.Texts, e.Text)
			continue
		}
		flush()
		cur = &Turn{Speaker: e.Speaker, Texts: []string{e.Text}, Offset: e.Start}
	}
	flush()
	return turns
}
