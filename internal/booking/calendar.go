package booking

import (
	"net/url"
	"time"
)

const calendarTimeLayout = "20060102T150405Z"

// calendarURL builds a Google Calendar event-template link the patient
// can open from the chat.
func calendarURL(title, details, location string, start time.Time, duration time.Duration) string {
	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", title)
	q.Set("dates", start.UTC().Format(calendarTimeLayout)+"/"+start.Add(duration).UTC().Format(calendarTimeLayout))
	if details != "" {
		q.Set("details", details)
	}
	if location != "" {
		q.Set("location", location)
	}
	return "https://calendar.google.com/calendar/render?" + q.Encode()
}
