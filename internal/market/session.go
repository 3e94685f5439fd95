// Package market knows the Indonesia Stock Exchange trading sessions.
package market

import (
	"fmt"
	"time"
)

// Session is one continuous trading window, in minutes after midnight WIB
type Session struct {
	Open  int
	Close int
}

// Schedule holds the regular sessions per weekday. Friday has a longer
// midday break for Friday prayers.
type Schedule struct {
	MonThu []Session
	Friday []Session
}

// DefaultSchedule IDX regular market, pre-closing included in the last session
func DefaultSchedule() Schedule {
	return Schedule{
		MonThu: []Session{{Open: 9 * 60, Close: 12 * 60}, {Open: 13*60 + 30, Close: 16 * 60}},
		Friday: []Session{{Open: 9 * 60, Close: 11*60 + 30}, {Open: 14 * 60, Close: 16 * 60}},
	}
}

// Status is the exchange state at one instant
type Status struct {
	IsOpen      bool          `json:"is_open"`
	Reason      string        `json:"reason"` // open, break, pre-market, after-hours, weekend
	Now         time.Time     `json:"now"`
	TimeToOpen  time.Duration `json:"time_to_open,omitempty"`
	TimeToClose time.Duration `json:"time_to_close,omitempty"`
}

// Location returns Asia/Jakarta, or a fixed UTC+7 zone when tzdata is missing
func Location() *time.Location {
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		loc = time.FixedZone("WIB", 7*60*60)
	}
	return loc
}

func (s Schedule) sessions(d time.Weekday) []Session {
	switch d {
	case time.Saturday, time.Sunday:
		return nil
	case time.Friday:
		return s.Friday
	default:
		return s.MonThu
	}
}

// StatusAt reports whether the market is trading at t. Exchange holidays are
// not modelled.
func (s Schedule) StatusAt(t time.Time, loc *time.Location) Status {
	now := t.In(loc)
	status := Status{Now: now}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	at := func(day time.Time, minutes int) time.Time {
		return day.Add(time.Duration(minutes) * time.Minute)
	}

	sessions := s.sessions(now.Weekday())
	if len(sessions) == 0 {
		status.Reason = "weekend"
		status.TimeToOpen = s.nextOpen(today.AddDate(0, 0, 1), loc).Sub(now)
		return status
	}

	for i, sess := range sessions {
		open, end := at(today, sess.Open), at(today, sess.Close)
		switch {
		case now.Before(open):
			status.Reason = "pre-market"
			if i > 0 {
				status.Reason = "break"
			}
			status.TimeToOpen = open.Sub(now)
			return status
		case now.Before(end):
			status.IsOpen = true
			status.Reason = "open"
			status.TimeToClose = end.Sub(now)
			return status
		}
	}

	status.Reason = "after-hours"
	status.TimeToOpen = s.nextOpen(today.AddDate(0, 0, 1), loc).Sub(now)
	return status
}

// nextOpen finds the first session start on or after day
func (s Schedule) nextOpen(day time.Time, loc *time.Location) time.Time {
	for i := 0; i < 7; i++ {
		d := day.AddDate(0, 0, i)
		if sessions := s.sessions(d.Weekday()); len(sessions) > 0 {
			return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc).
				Add(time.Duration(sessions[0].Open) * time.Minute)
		}
	}
	return day
}

// FormatDuration renders "2h 5m" or "17m"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "0m"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
