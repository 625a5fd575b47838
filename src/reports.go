package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ryansname/chargectl/src/calendar"
	"github.com/ryansname/chargectl/src/tariff"
)

// writeBlocksTable prints the block for each hour of date
func writeBlocksTable(w io.Writer, classifier *tariff.Classifier, date time.Time) {
	blocks := classifier.BlocksForDay(date)
	season := "low"
	if tariff.IsHighSeason(date) {
		season = "high"
	}
	dayType := "workday"
	if classifier.IsWorkFreeDay(date) {
		dayType = "work-free"
	}
	fmt.Fprintf(w, "%s (%s season, %s)\n", date.Format(time.DateOnly), season, dayType)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Hour", "Base", "Block"})
	for hour, block := range blocks {
		base, _ := tariff.BaseBlock(hour)
		table.Append([]string{fmt.Sprintf("%02d:00", hour), strconv.Itoa(base), strconv.Itoa(block)})
	}
	table.Render()
}

// writeHolidaysTable prints the holidays of a year
func writeHolidaysTable(w io.Writer, year int, loc *time.Location) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Date", "Weekday", "Holiday"})
	for _, h := range calendar.HolidaysForYear(year, loc) {
		table.Append([]string{h.Date.Format(time.DateOnly), h.Date.Weekday().String(), h.Name})
	}
	table.Render()
}

func newBlocksCmd(timezone *string) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "Show the tariff block for every hour of a day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := time.LoadLocation(*timezone)
			if err != nil {
				return err
			}
			day := time.Now().In(loc)
			if date != "" {
				day, err = time.ParseInLocation(time.DateOnly, date, loc)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}
			writeBlocksTable(cmd.OutOrStdout(), tariff.NewClassifier(), calendar.Day(day))
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to show (YYYY-MM-DD), default today")
	return cmd
}

func newHolidaysCmd(timezone *string) *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "holidays",
		Short: "List the public holidays of a year",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := time.LoadLocation(*timezone)
			if err != nil {
				return err
			}
			if year == 0 {
				year = time.Now().In(loc).Year()
			}
			writeHolidaysTable(cmd.OutOrStdout(), year, loc)
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "year to list, default this year")
	return cmd
}
