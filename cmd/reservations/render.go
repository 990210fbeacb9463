package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Rosvend/university-reservations/internal/catalog"
	"github.com/Rosvend/university-reservations/internal/model"
)

// now は作成日時の相対表示の基準時刻です
var now = time.Now

func newTable() table.Writer {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	return w
}

func renderSpaces(spaces []model.Space) string {
	w := newTable()
	w.AppendHeader(table.Row{"ID", "Name", "Type", "Capacity", "Description"})
	for _, s := range spaces {
		w.AppendRow(table.Row{s.ID, s.Name, s.Type, s.Capacity, s.Description})
	}
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, WidthMax: 48},
	})
	w.AppendFooter(table.Row{"", "", "Total", len(spaces), ""})
	return w.Render() + "\n"
}

func renderTypes(types []catalog.TypeCount) string {
	w := newTable()
	w.AppendHeader(table.Row{"Type", "Spaces"})
	for _, tc := range types {
		w.AppendRow(table.Row{tc.Type, tc.Count})
	}
	return w.Render() + "\n"
}

func renderReservations(reservations []model.Reservation) string {
	w := newTable()
	w.AppendHeader(table.Row{"ID", "Student", "Space", "Date", "Time", "Booked"})
	for _, r := range reservations {
		w.AppendRow(table.Row{
			r.ID(),
			r.StudentName(),
			r.SpaceName(),
			model.FormatDate(r.Date()),
			model.FormatTime(r.Time()),
			humanize.RelTime(r.CreatedAt(), now(), "ago", "from now"),
		})
	}
	w.AppendFooter(table.Row{"", "", "", "", "Total", fmt.Sprint(len(reservations))})
	return w.Render() + "\n"
}
