// Package ical renders minimal RFC 5545 calendar entries for seminar
// session invitations attached to booking notifications.
package ical

import (
	"fmt"
	"strings"
	"time"
)

// Method values for the iTIP METHOD property.
const (
	MethodRequest = "REQUEST"
	MethodCancel  = "CANCEL"
)

// Entry describes one VEVENT.
type Entry struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Organizer   string
	Attendee    string
	Sequence    int
}

const stampLayout = "20060102T150405Z"

// Render produces a single-calendar document containing the entries. Times
// render in UTC. Method distinguishes invitations from cancellations.
func Render(method string, entries []Entry) []byte {
	var b strings.Builder
	line(&b, "BEGIN:VCALENDAR")
	line(&b, "VERSION:2.0")
	line(&b, "PRODID:-//coursepulse//notifier//EN")
	line(&b, "METHOD:"+method)
	now := time.Now().UTC().Format(stampLayout)
	for _, e := range entries {
		line(&b, "BEGIN:VEVENT")
		line(&b, "UID:"+e.UID)
		line(&b, "DTSTAMP:"+now)
		line(&b, "DTSTART:"+e.Start.UTC().Format(stampLayout))
		line(&b, "DTEND:"+e.End.UTC().Format(stampLayout))
		line(&b, "SUMMARY:"+escape(e.Summary))
		if e.Description != "" {
			line(&b, "DESCRIPTION:"+escape(e.Description))
		}
		if e.Location != "" {
			line(&b, "LOCATION:"+escape(e.Location))
		}
		if e.Organizer != "" {
			line(&b, "ORGANIZER:mailto:"+e.Organizer)
		}
		if e.Attendee != "" {
			line(&b, "ATTENDEE;ROLE=REQ-PARTICIPANT;PARTSTAT=NEEDS-ACTION:mailto:"+e.Attendee)
		}
		line(&b, fmt.Sprintf("SEQUENCE:%d", e.Sequence))
		if method == MethodCancel {
			line(&b, "STATUS:CANCELLED")
		}
		line(&b, "END:VEVENT")
	}
	line(&b, "END:VCALENDAR")
	return []byte(b.String())
}

// line writes one content line with CRLF termination, folding at 75 octets.
func line(b *strings.Builder, s string) {
	for len(s) > 75 {
		b.WriteString(s[:75])
		b.WriteString("\r\n ")
		s = s[75:]
	}
	b.WriteString(s)
	b.WriteString("\r\n")
}

// escape backslash-escapes the characters TEXT values reserve.
func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\n", `\n`)
	return r.Replace(s)
}
