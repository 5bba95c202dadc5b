package utils

import "time"

// CallDateLayout is the calendar-day format used in record partition keys.
const CallDateLayout = "2006-01-02"

// CallDate formats t as a UTC calendar day.
func CallDate(t time.Time) string {
	return t.UTC().Format(CallDateLayout)
}

// ValidCallDate reports whether s is a YYYY-MM-DD date.
func ValidCallDate(s string) bool {
	_, err := time.Parse(CallDateLayout, s)
	return err == nil
}
