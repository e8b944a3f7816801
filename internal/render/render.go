// Package render fills the countdown placeholder in a message body.
package render

import (
	"strconv"
	"strings"
	"time"
)

const DefaultPlaceholder = "//time//"

// MinutesBetween returns the whole minutes separating a and b, ignoring direction.
func MinutesBetween(a, b time.Time) int {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return int(d / time.Minute)
}

// Render replaces every occurrence of placeholder in text with "<n> min",
// where n is the whole minutes between now and target. Text without the
// placeholder is returned unchanged.
func Render(text, placeholder string, now, target time.Time) string {
	if placeholder == "" || !strings.Contains(text, placeholder) {
		return text
	}
	return strings.ReplaceAll(text, placeholder, strconv.Itoa(MinutesBetween(now, target))+" min")
}
