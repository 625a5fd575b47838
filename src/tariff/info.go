package tariff

import (
	"time"

	"github.com/ryansname/chargectl/src/calendar"
)

// CalendarInfo summarises the day type for display
type CalendarInfo struct {
	State             string  `json:"state"`
	IsWeekend         bool    `json:"is_weekend"`
	IsHoliday         bool    `json:"is_holiday"`
	IsWorkFreeDay     bool    `json:"is_work_free_day"`
	HolidayName       *string `json:"holiday_name"`
	NextHolidayName   *string `json:"next_holiday_name"`
	NextHolidayDate   *string `json:"next_holiday_date"`
	DaysToNextHoliday *int    `json:"days_to_next_holiday"`
	Today             string  `json:"today"`
}

// CalendarInfoAt builds the calendar summary for the day containing now.
// The state is "holiday", "weekend" or "weekday", holiday taking precedence.
func CalendarInfoAt(now time.Time) CalendarInfo {
	today := calendar.Day(now)
	weekend := calendar.IsWeekend(today)
	name, holiday := calendar.HolidayName(today)

	info := CalendarInfo{
		State:         "weekday",
		IsWeekend:     weekend,
		IsHoliday:     holiday,
		IsWorkFreeDay: weekend || holiday,
		Today:         today.Format(time.DateOnly),
	}
	switch {
	case holiday:
		info.State = "holiday"
	case weekend:
		info.State = "weekend"
	}
	if holiday {
		info.HolidayName = &name
	}

	if next, ok := calendar.NextHoliday(today); ok {
		nextDate := next.Date.Format(time.DateOnly)
		days := calendar.DaysBetween(today, next.Date)
		info.NextHolidayName = &next.Name
		info.NextHolidayDate = &nextDate
		info.DaysToNextHoliday = &days
	}
	return info
}

// EnergyInfo describes the tariff situation at an instant for display
type EnergyInfo struct {
	Block                int    `json:"block"`
	IsHighSeason         bool   `json:"is_high_season"`
	Season               string `json:"season"`
	IsWorkFreeDay        bool   `json:"is_work_free_day"`
	DayType              string `json:"day_type"`
	BaseBlock            int    `json:"base_block"`
	PreviousBlock        int    `json:"previous_block"`
	NextBlock            int    `json:"next_block"`
	SameAsPrevious       bool   `json:"same_as_previous"`
	SameAsNext           bool   `json:"same_as_next"`
	MinutesSincePrevious int    `json:"minutes_since_previous"`
	MinutesToNext        int    `json:"minutes_to_next"`
	Blocks               []int  `json:"blocks_today"`
}

// EnergyInfoAt builds the tariff summary for now
func (c *Classifier) EnergyInfoAt(now time.Time) EnergyInfo {
	today := calendar.Day(now)
	high := IsHighSeason(today)
	workFree := c.IsWorkFreeDay(today)
	transition := c.TransitionAt(now)
	base, _ := BaseBlock(now.Hour())

	info := EnergyInfo{
		Block:                transition.CurrentBlock,
		IsHighSeason:         high,
		Season:               "low",
		IsWorkFreeDay:        workFree,
		DayType:              "workday",
		BaseBlock:            base,
		PreviousBlock:        transition.PreviousBlock,
		NextBlock:            transition.NextBlock,
		SameAsPrevious:       transition.SameAsPrevious,
		SameAsNext:           transition.SameAsNext,
		MinutesSincePrevious: transition.MinutesSincePrevious,
		MinutesToNext:        transition.MinutesToNext,
		Blocks:               c.BlocksForDay(today),
	}
	if high {
		info.Season = "high"
	}
	if workFree {
		info.DayType = "work_free"
	}
	return info
}
