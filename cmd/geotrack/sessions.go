package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/aadithya-v/geotrack"
	"github.com/aadithya-v/geotrack/store"
	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect recorded sessions",
		Long:  "Reads sessions straight from the store. These commands never run recovery, so they are safe while a server is recording.",
	}

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	cmd.AddCommand(newSessionsPointsCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "geotrack.yaml", "path to geotrack config file")
	return cmd
}

func runSessionsList(cmd *cobra.Command, configPath string) error {
	sessions, err := openFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	defer sessions.Close()

	ctx := cmd.Context()
	all, err := sessions.GetAllSessions(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(all) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tDISTANCE\tPOINTS\tSTATUS")
	for _, s := range all {
		summary, err := geotrack.SummarizeStore(ctx, sessions, s.ID, now)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
			s.ID,
			geotrack.FormatDateTime(summary.StartTime.Local()),
			geotrack.FormatDuration(summary.Duration),
			geotrack.FormatDistance(summary.Distance),
			summary.PointCount,
			sessionStatus(summary))
	}
	w.Flush()
	return nil
}

func newSessionsShowCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show session details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd, configPath, args[0], asJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "geotrack.yaml", "path to geotrack config file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func runSessionsShow(cmd *cobra.Command, configPath, idArg string, asJSON bool) error {
	id, err := parseSessionID(idArg)
	if err != nil {
		return err
	}

	sessions, err := openFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	defer sessions.Close()

	summary, err := geotrack.SummarizeStore(cmd.Context(), sessions, id, time.Now())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	end := "-"
	if summary.EndTime != nil {
		end = geotrack.FormatDateTime(summary.EndTime.Local())
	}
	fmt.Fprintf(out, "Session:   %d\n", summary.SessionID)
	fmt.Fprintf(out, "Status:    %s\n", sessionStatus(summary))
	fmt.Fprintf(out, "Started:   %s\n", geotrack.FormatDateTime(summary.StartTime.Local()))
	fmt.Fprintf(out, "Ended:     %s\n", end)
	fmt.Fprintf(out, "Duration:  %s\n", geotrack.FormatDuration(summary.Duration))
	fmt.Fprintf(out, "Distance:  %s\n", geotrack.FormatDistance(summary.Distance))
	fmt.Fprintf(out, "Points:    %d\n", summary.PointCount)
	fmt.Fprintf(out, "Avg speed: %.2f m/s\n", summary.AverageSpeed)
	return nil
}

func newSessionsPointsCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "points <id>",
		Short: "Print the points of a session in recording order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsPoints(cmd, configPath, args[0], asJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "geotrack.yaml", "path to geotrack config file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print points as JSON")
	return cmd
}

func runSessionsPoints(cmd *cobra.Command, configPath, idArg string, asJSON bool) error {
	id, err := parseSessionID(idArg)
	if err != nil {
		return err
	}

	sessions, err := openFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	defer sessions.Close()

	ctx := cmd.Context()
	if _, err := sessions.GetSession(ctx, id); err != nil {
		return notFound(id, err)
	}
	points, err := geotrack.LoadPoints(ctx, sessions, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return json.NewEncoder(out).Encode(points)
	}
	if len(points) == 0 {
		fmt.Fprintln(out, "No points recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTIME\tLAT\tLNG")
	for i, p := range points {
		fmt.Fprintf(w, "%d\t%s\t%.6f\t%.6f\n", i+1, p.Timestamp.Local().Format(time.RFC3339), p.Lat, p.Lng)
	}
	w.Flush()
	return nil
}

func newSessionsDeleteCmd() *cobra.Command {
	var (
		configPath string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session and its points",
		Long:  "Deletes a finished session. Sessions without an end time may still be recording and are refused unless --force is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsDelete(cmd, configPath, args[0], force)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "geotrack.yaml", "path to geotrack config file")
	cmd.Flags().BoolVar(&force, "force", false, "delete even if the session has no end time")
	return cmd
}

func runSessionsDelete(cmd *cobra.Command, configPath, idArg string, force bool) error {
	id, err := parseSessionID(idArg)
	if err != nil {
		return err
	}

	sessions, err := openFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	defer sessions.Close()

	ctx := cmd.Context()
	s, err := sessions.GetSession(ctx, id)
	if err != nil {
		return notFound(id, err)
	}
	if s.IsOpen() && !force {
		return fmt.Errorf("%w: session %d has no end time (use --force to delete anyway)", geotrack.ErrSessionActive, id)
	}

	if err := sessions.DeleteSession(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %d\n", id)
	return nil
}

func openFromConfig(cmd *cobra.Command, configPath string) (store.SessionStore, error) {
	if cmd.Context() == nil {
		cmd.SetContext(context.Background())
	}
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return nil, err
	}
	return openSessionStore(cfg)
}

func parseSessionID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session id %q", arg)
	}
	return id, nil
}

func notFound(id int64, err error) error {
	if errors.Is(err, store.ErrSessionNotFound) {
		return fmt.Errorf("%w: %d", geotrack.ErrNotFound, id)
	}
	return err
}

func sessionStatus(s geotrack.Summary) string {
	if s.Active {
		return "open"
	}
	return "closed"
}
