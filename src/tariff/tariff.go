// Package tariff classifies wall-clock time into network tariff blocks.
//
// The base block comes from the hour of day. An offset is added depending on
// season (high season is November to February) and on whether the day is
// work-free (weekend or public holiday), giving blocks 1 to 5.
package tariff

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ryansname/chargectl/src/calendar"
)

// ErrInvalidHour is returned for hours outside 0-23
var ErrInvalidHour = errors.New("invalid hour")

// NumBlocks is the number of distinct tariff blocks
const NumBlocks = 5

// BaseBlock returns the block (1-3) for an hour of day before season/day offsets
func BaseBlock(hour int) (int, error) {
	switch {
	case hour < 0 || hour > 23:
		return 0, fmt.Errorf("%w: %d", ErrInvalidHour, hour)
	case hour <= 5:
		return 3, nil
	case hour == 6:
		return 2, nil
	case hour <= 13:
		return 1, nil
	case hour <= 15:
		return 2, nil
	case hour <= 19:
		return 1, nil
	case hour <= 21:
		return 2, nil
	default:
		return 3, nil
	}
}

// IsHighSeason is true from November through February
func IsHighSeason(date time.Time) bool {
	switch date.Month() {
	case time.November, time.December, time.January, time.February:
		return true
	}
	return false
}

// blockOffset is indexed by [highSeason][workFree]
var blockOffset = [2][2]int{
	{1, 2}, // low season: workday, work-free
	{0, 1}, // high season: workday, work-free
}

func boolIndex(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Classifier derives tariff blocks from dates. WorkFree decides the day type
// and defaults to calendar.IsWorkFreeDay.
type Classifier struct {
	WorkFree func(date time.Time) bool
}

// NewClassifier returns a classifier using the public holiday calendar
func NewClassifier() *Classifier {
	return &Classifier{WorkFree: calendar.IsWorkFreeDay}
}

// IsWorkFreeDay reports the day type used for the block offset
func (c *Classifier) IsWorkFreeDay(date time.Time) bool {
	if c == nil || c.WorkFree == nil {
		return calendar.IsWorkFreeDay(date)
	}
	return c.WorkFree(date)
}

// CurrentBlock returns the block in force at hour on date
func (c *Classifier) CurrentBlock(date time.Time, hour int) (int, error) {
	base, err := BaseBlock(hour)
	if err != nil {
		return 0, err
	}
	offset := blockOffset[boolIndex(IsHighSeason(date))][boolIndex(c.IsWorkFreeDay(date))]
	return base + offset, nil
}

// mustBlock is used where the hour comes from a clock and cannot be out of range
func (c *Classifier) mustBlock(date time.Time, hour int) int {
	block, err := c.CurrentBlock(date, hour)
	if err != nil {
		panic(err)
	}
	return block
}

// Transition describes the blocks around the current hour
type Transition struct {
	PreviousBlock        int
	CurrentBlock         int
	NextBlock            int
	SameAsPrevious       bool
	SameAsNext           bool
	MinutesSincePrevious int
	MinutesToNext        int
}

// TransitionAt computes the current block and its neighbours for now.
// Hour 0 looks back to hour 23 of the previous day, hour 23 looks ahead to
// hour 0 of the next day.
func (c *Classifier) TransitionAt(now time.Time) Transition {
	today := calendar.Day(now)
	hour := now.Hour()

	prevDate, prevHour := today, hour-1
	if hour == 0 {
		prevDate, prevHour = today.AddDate(0, 0, -1), 23
	}
	nextDate, nextHour := today, hour+1
	if hour == 23 {
		nextDate, nextHour = today.AddDate(0, 0, 1), 0
	}

	current := c.mustBlock(today, hour)
	previous := c.mustBlock(prevDate, prevHour)
	next := c.mustBlock(nextDate, nextHour)

	return Transition{
		PreviousBlock:        previous,
		CurrentBlock:         current,
		NextBlock:            next,
		SameAsPrevious:       current == previous,
		SameAsNext:           current == next,
		MinutesSincePrevious: now.Minute(),
		MinutesToNext:        60 - now.Minute(),
	}
}

// BlocksForDay lists the block for each hour 0-23 of date
func (c *Classifier) BlocksForDay(date time.Time) []int {
	blocks := make([]int, 24)
	for h := range blocks {
		blocks[h] = c.mustBlock(date, h)
	}
	return blocks
}

// Caps holds the per-block power caps in kW, index 0 is block 1
type Caps [NumBlocks]float64

// Watts converts the cap of a block to whole watts, 0 for unknown blocks
func (c Caps) Watts(block int) int {
	if block < 1 || block > NumBlocks {
		return 0
	}
	return int(math.Round(c[block-1] * 1000))
}
