package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cyp0633/esncal/davclient"
	"github.com/cyp0633/esncal/eventsource"
	"github.com/cyp0633/esncal/internal/config"
	"github.com/cyp0633/esncal/shell"
	"github.com/samber/mo"
	"github.com/spf13/cobra"
)

var (
	configPath string
	jsonOutput bool
	current    *app
)

var rootCmd = &cobra.Command{
	Use:   "esncal",
	Short: "Calendar client for a groupware CalDAV gateway",
	Long: `esncal lists and edits events through a CalDAV gateway.
Changes are staged for a grace period before the server commits them;
press Ctrl-C while a change is pending to undo it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		current, err = newApp(cfg)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current != nil {
			current.close()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	rootCmd.AddCommand(homeCmd(), listCmd(), getCmd(), createCmd(), deleteCmd(), rsvpCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func homeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "home",
		Short: "Show the calendar home of the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := current.dav.CalendarHome(cmd.Context(), current.cfg.DAV.PrincipalPath)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{"home_id": home})
			}
			fmt.Fprintln(cmd.OutOrStdout(), home)
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	var from string
	var days int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the events of the coming days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now().In(shell.LocalLocation())
			if from != "" {
				var err error
				if start, err = time.ParseInLocation("2006-01-02", from, shell.LocalLocation()); err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
			}
			start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
			end := start.AddDate(0, 0, days)

			path, err := current.calendarPath(cmd.Context())
			if err != nil {
				return err
			}

			var listErr error
			source := eventsource.NewForPath(current.service, path, eventsource.ReporterFunc(func(err error, message string) {
				listErr = fmt.Errorf("%s: %w", message, err)
			}), current.logger)

			var shells []shell.Shell
			source(cmd.Context(), start, end, shell.LocalTimezone(), func(s []shell.Shell) { shells = s })
			if listErr != nil {
				return listErr
			}
			return printShells(cmd.OutOrStdout(), shells)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD), default today")
	cmd.Flags().IntVar(&days, "days", 7, "number of days")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <uid>",
		Short: "Show one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := current.calendarPath(cmd.Context())
			if err != nil {
				return err
			}
			s, err := current.service.GetEvent(cmd.Context(), davclient.EventPath(path, args[0]))
			if err != nil {
				return err
			}
			return printShells(cmd.OutOrStdout(), []shell.Shell{*s})
		},
	}
}

func createCmd() *cobra.Command {
	var (
		title, location, description, organizer string
		startFlag, endFlag, stream              string
		allDay                                  bool
		attendees                               []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().In(shell.LocalLocation())
			start, end := shell.NewStartDate(now), shell.NewEndDate(now)
			var err error
			if startFlag != "" {
				if start, err = parseTime(startFlag); err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
				end = start.Add(shell.NewEndDate(now).Sub(shell.NewStartDate(now)))
			}
			if endFlag != "" {
				if end, err = parseTime(endFlag); err != nil {
					return fmt.Errorf("invalid --end: %w", err)
				}
			}
			if end.Before(start) {
				return errors.New("event ends before it starts")
			}

			s := shell.Shell{
				Title:       title,
				Location:    location,
				Description: description,
				AllDay:      allDay,
				Start:       start,
				End:         end,
				Organizer:   mo.None[shell.Person](),
			}
			if organizer != "" {
				s.Organizer = mo.Some(shell.Person{Email: organizer, DisplayName: organizer})
			}
			for _, email := range attendees {
				s.Attendees = append(s.Attendees, shell.Attendee{Person: shell.Person{Email: email, DisplayName: email}})
			}

			path, err := current.calendarPath(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := current.undoOnInterrupt(cmd.Context())
			defer stop()

			created, err := current.service.Create(ctx, path, shell.Encode(s))
			if err != nil {
				return err
			}
			if created == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Event creation cancelled.")
				return nil
			}
			if stream != "" {
				current.bus.EmitPostedMessage(created.ID, stream)
			}
			return printShells(cmd.OutOrStdout(), []shell.Shell{*created})
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "event title")
	cmd.Flags().StringVar(&location, "location", "", "event location")
	cmd.Flags().StringVar(&description, "description", "", "event description")
	cmd.Flags().StringVar(&organizer, "organizer", "", "organizer email")
	cmd.Flags().StringVar(&startFlag, "start", "", "start (RFC 3339 or YYYY-MM-DD), default next full hour")
	cmd.Flags().StringVar(&endFlag, "end", "", "end (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().BoolVar(&allDay, "all-day", false, "all-day event")
	cmd.Flags().StringArrayVarP(&attendees, "attendee", "a", nil, "attendee email, repeatable")
	cmd.Flags().StringVar(&stream, "stream", "", "activity stream the new event is posted to")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uid>",
		Short: "Delete an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := current.calendarPath(cmd.Context())
			if err != nil {
				return err
			}
			eventPath := davclient.EventPath(path, args[0])
			s, err := current.service.GetEvent(cmd.Context(), eventPath)
			if err != nil {
				return err
			}

			ctx, stop := current.undoOnInterrupt(cmd.Context())
			defer stop()
			return current.service.Remove(ctx, eventPath, *s, s.ETag)
		},
	}
}

func rsvpCmd() *cobra.Command {
	var emails []string
	cmd := &cobra.Command{
		Use:       "rsvp <uid> <accepted|declined|tentative>",
		Short:     "Answer an invitation",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"accepted", "declined", "tentative"},
		RunE: func(cmd *cobra.Command, args []string) error {
			status := strings.ToUpper(args[1])
			switch status {
			case shell.PartStatAccepted, shell.PartStatDeclined, shell.PartStatTentative:
			default:
				return fmt.Errorf("unknown answer %q", args[1])
			}
			if len(emails) == 0 {
				emails = current.userEmails()
			}
			if len(emails) == 0 {
				return errors.New("--email is required")
			}

			path, err := current.calendarPath(cmd.Context())
			if err != nil {
				return err
			}
			eventPath := davclient.EventPath(path, args[0])
			s, err := current.service.GetEvent(cmd.Context(), eventPath)
			if err != nil {
				return err
			}
			if s.Organizer.IsPresent() && shell.IsOrganizer(*s, emails) {
				return errors.New("you organize this event, there is no invitation to answer")
			}

			ctx, stop := current.undoOnInterrupt(cmd.Context())
			defer stop()
			updated, err := current.service.ChangeParticipation(ctx, eventPath, *s, emails, status, s.ETag)
			if err != nil {
				return err
			}
			if updated == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Nothing to change.")
				return nil
			}
			return printShells(cmd.OutOrStdout(), []shell.Shell{*updated})
		},
	}
	cmd.Flags().StringArrayVarP(&emails, "email", "e", nil, "your email addresses, repeatable")
	return cmd
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", v, shell.LocalLocation())
}

type eventView struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Location  string   `json:"location,omitempty"`
	AllDay    bool     `json:"allDay"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Organizer string   `json:"organizer,omitempty"`
	Attendees []string `json:"attendees,omitempty"`
	Status    string   `json:"status,omitempty"`
	Path      string   `json:"path,omitempty"`
	ETag      string   `json:"etag,omitempty"`

	// NeedsAnswer is set when the configured user still has to answer.
	NeedsAnswer bool `json:"needsAnswer,omitempty"`
}

func viewOf(s shell.Shell) eventView {
	v := eventView{
		ID:       s.ID,
		Title:    s.Title,
		Location: s.Location,
		AllDay:   s.AllDay,
		Start:    s.Start.Format(time.RFC3339),
		End:      s.End.Format(time.RFC3339),
		Status:   s.Status.OrEmpty(),
		Path:     s.Path,
		ETag:     s.ETag,
	}
	if current != nil {
		v.NeedsAnswer = shell.NeedsAction(s, current.userEmails())
	}
	if organizer, ok := s.Organizer.Get(); ok {
		v.Organizer = organizer.FullMail()
	}
	for _, a := range s.Attendees {
		v.Attendees = append(v.Attendees, fmt.Sprintf("%s (%s)", a.FullMail(), a.PartStat))
	}
	return v
}

func printShells(w io.Writer, shells []shell.Shell) error {
	if jsonOutput {
		views := make([]eventView, len(shells))
		for i, s := range shells {
			views[i] = viewOf(s)
		}
		return printJSON(w, views)
	}
	for _, s := range shells {
		when := s.FormattedDate()
		if !s.AllDay {
			when += fmt.Sprintf(" %s%s-%s%s", s.FormattedStartTime(), s.FormattedStartA(), s.FormattedEndTime(), s.FormattedEndA())
		}
		if end := lastDay(s); !shell.SameDay(s.Start.In(shell.LocalLocation()), end) {
			when += " until " + end.Format("January 2, 2006")
		}
		title := s.Title
		if current != nil && shell.NeedsAction(s, current.userEmails()) {
			title += " [needs answer]"
		}
		fmt.Fprintf(w, "%s  %s  %s\n", when, title, s.ID)
		if s.Location != "" {
			fmt.Fprintf(w, "    at %s\n", s.Location)
		}
		for _, a := range s.Attendees {
			fmt.Fprintf(w, "    %s %s\n", a.PartStat, a.FullMail())
		}
	}
	return nil
}

// lastDay is the day the event ends on. All-day events end at midnight of
// the following day.
func lastDay(s shell.Shell) time.Time {
	end := s.End.In(shell.LocalLocation())
	if s.AllDay && end.After(s.Start) {
		end = end.AddDate(0, 0, -1)
	}
	return end
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
