package workshops

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

const (
	// EventDuration is how long a workshop is assumed to last.
	EventDuration = 3 * time.Hour
	// EventLocation is printed on every calendar entry.
	EventLocation = "LMDA, Lahore"

	icsTimeLayout = "20060102T150405Z"
)

// Schedule is a public listing split around a point in time.
type Schedule struct {
	Upcoming []Workshop `json:"upcoming"`
	Past     []Workshop `json:"past"`
}

// SplitByDate partitions workshops ordered by ascending start time. Upcoming
// keeps that order; past is newest first.
func SplitByDate(workshops []Workshop, now time.Time) Schedule {
	schedule := Schedule{Upcoming: []Workshop{}, Past: []Workshop{}}
	for _, w := range workshops {
		if w.ScheduledAt.After(now) {
			schedule.Upcoming = append(schedule.Upcoming, w)
			continue
		}
		schedule.Past = append(schedule.Past, w)
	}
	for i, j := 0, len(schedule.Past)-1; i < j; i, j = i+1, j-1 {
		schedule.Past[i], schedule.Past[j] = schedule.Past[j], schedule.Past[i]
	}
	return schedule
}

// WriteICS renders a single-event iCalendar document.
func WriteICS(w io.Writer, workshop Workshop, stamp time.Time) error {
	start := workshop.ScheduledAt.UTC()
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//LMDA//Workshops//EN",
		"CALSCALE:GREGORIAN",
		"BEGIN:VEVENT",
		"UID:" + workshop.ID + "@lmda",
		"DTSTAMP:" + stamp.UTC().Format(icsTimeLayout),
		"DTSTART:" + start.Format(icsTimeLayout),
		"DTEND:" + start.Add(EventDuration).Format(icsTimeLayout),
		"SUMMARY:" + escapeText(workshop.Title),
		"DESCRIPTION:" + escapeText(eventDetails(workshop)),
		"LOCATION:" + escapeText(EventLocation),
		"END:VEVENT",
		"END:VCALENDAR",
	}
	for _, line := range lines {
		if _, err := io.WriteString(w, fold(line)+"\r\n"); err != nil {
			return err
		}
	}
	return nil
}

// GoogleCalendarURL builds an "add to calendar" link for the workshop.
func GoogleCalendarURL(workshop Workshop) string {
	start := workshop.ScheduledAt.UTC()
	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", workshop.Title)
	q.Set("dates", start.Format(icsTimeLayout)+"/"+start.Add(EventDuration).Format(icsTimeLayout))
	q.Set("details", eventDetails(workshop))
	q.Set("location", EventLocation)
	return "https://calendar.google.com/calendar/render?" + q.Encode()
}

// ICSFilename is the download name offered for a workshop.
func ICSFilename(workshop Workshop) string {
	return fmt.Sprintf("lmda-workshop-%s.ics", workshop.ID)
}

func eventDetails(workshop Workshop) string {
	if workshop.Description != "" {
		return workshop.Description
	}
	return "Trainer: " + workshop.TrainerName
}

var icsEscaper = strings.NewReplacer(
	`\`, `\\`,
	";", `\;`,
	",", `\,`,
	"\r\n", `\n`,
	"\n", `\n`,
)

func escapeText(s string) string {
	return icsEscaper.Replace(s)
}

// fold wraps content lines at 75 octets without splitting a UTF-8 sequence.
func fold(line string) string {
	const limit = 75
	if len(line) <= limit {
		return line
	}
	var b strings.Builder
	width := 0
	for _, r := range line {
		size := len(string(r))
		if width+size > limit {
			b.WriteString("\r\n ")
			width = 1
		}
		b.WriteRune(r)
		width += size
	}
	return b.String()
}
