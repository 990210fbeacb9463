package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Rosvend/university-reservations/internal/catalog"
	"github.com/Rosvend/university-reservations/internal/model"
)

func newSpacesCmd(a *app) *cobra.Command {
	var flags struct {
		spaceType string
		types     bool
	}
	cmd := &cobra.Command{
		Use:   "spaces",
		Short: "List the spaces that can be booked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := a.loadCatalog()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flags.types {
				fmt.Fprint(out, renderTypes(cat.Types()))
				return nil
			}
			spaces := cat.FilterByType(flags.spaceType)
			if len(spaces) == 0 {
				fmt.Fprintf(out, "No spaces of type %q.\n", flags.spaceType)
				return nil
			}
			fmt.Fprint(out, renderSpaces(spaces))
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.spaceType, "type", catalog.AllTypes, "Only show spaces of this type")
	cmd.Flags().BoolVar(&flags.types, "types", false, "Show the number of spaces per type")
	return cmd
}

func newCreateCmd(a *app) *cobra.Command {
	var candidate model.Candidate
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Book a space for a date and time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			r, err := store.Create(cmd.Context(), candidate)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reservation confirmed for %s on %s at %s (id %s)\n",
				r.SpaceName(), model.FormatDate(r.Date()), model.FormatTime(r.Time()), r.ID())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&candidate.StudentName, "name", "", "Student name (3-100 characters)")
	f.IntVar(&candidate.SpaceID, "space", 0, "Space id (see 'reservations spaces')")
	f.StringVar(&candidate.Date, "date", "", "Date in YYYY-MM-DD format")
	f.StringVar(&candidate.Time, "time", "", "Time in 24-hour HH:MM format")
	for _, name := range []string{"name", "space", "date", "time"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List reservations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			reservations, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(reservations) == 0 {
				fmt.Fprintln(out, "No reservations found.")
				return nil
			}
			fmt.Fprint(out, renderReservations(reservations))
			return nil
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			id := model.ReservationID(strings.TrimSpace(args[0]))
			if err := store.Cancel(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reservation %s cancelled\n", id)
			return nil
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every reservation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all reservations without --yes")
			}
			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All reservations deleted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting every reservation")
	return cmd
}
