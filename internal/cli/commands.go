package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rahul/hitobot/internal/bot"
	"github.com/rahul/hitobot/internal/ingest"
	"github.com/rahul/hitobot/internal/milestone"
	"github.com/rahul/hitobot/internal/notify"
	"github.com/rahul/hitobot/internal/store"
	"github.com/rahul/hitobot/pkg/config"
)

func buildImportCommand(opts *options) *cobra.Command {
	var (
		reset bool
		sheet string
	)
	cmd := &cobra.Command{
		Use:   "import [workbook]",
		Short: "Import requests from the schedule workbook",
		Long: `Import requests from an .xlsx schedule. Without --reset new requests are
added and existing ones get their descriptive fields refreshed; with --reset
every stored request is replaced.`,
		Args: cobra.MaximumNArgs(1),
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			path := rt.cfg.Ingest.Workbook
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no workbook given and ingest.workbook is not configured")
			}
			if sheet == "" {
				sheet = rt.cfg.Ingest.Sheet
			}
			loader := ingest.NewLoader(rt.catalog, rt.store, rt.loc, rt.logger)
			res, err := loader.ImportFile(cmd.Context(), path, sheet, reset)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "inserted: %d\nupdated: %d\ndeleted: %d\nskipped: %d\n",
				res.Inserted, res.Updated, res.Deleted, res.Skipped)
			for _, issue := range res.Issues {
				fmt.Fprintf(out, "  %s\n", issue)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "delete every stored request before loading")
	cmd.Flags().StringVar(&sheet, "sheet", "", "sheet name (default: first sheet)")
	cmd.Flags().String("workbook", "", "workbook path (default: ingest.workbook)")
	_ = opts.v.BindPFlag(config.KeyWorkbook, cmd.Flags().Lookup("workbook"))
	return cmd
}

func buildSweepCommand(opts *options) *cobra.Command {
	var (
		dryRun bool
		lead   int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the notification sweep once",
		Long: `Match every active request whose current milestone falls on today plus the
lead days and deliver the reminders. --dry-run prints the matches instead.`,
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, _ []string) error {
			var override *int
			if cmd.Flags().Changed("lead") {
				override = &lead
			}
			out := cmd.OutOrStdout()

			if dryRun {
				sched, err := newScheduler(rt, &channels{senders: map[string]notify.Sender{}})
				if err != nil {
					return err
				}
				d, err := sched.Preview(cmd.Context(), override)
				if err != nil {
					return err
				}
				printDigest(out, d)
				return nil
			}

			if override != nil {
				return fmt.Errorf("--lead only applies to --dry-run; use settings set lead_days")
			}
			_, ch, err := openChannels(rt, nil)
			if err != nil {
				return err
			}
			if len(ch.senders) == 0 {
				return fmt.Errorf("no delivery gateway is enabled")
			}
			sched, err := newScheduler(rt, ch)
			if err != nil {
				return err
			}
			d, rep, err := sched.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			printDigest(out, d)
			fmt.Fprintf(out, "recipients: %d sent: %d failed: %d skipped: %d\n",
				rep.Recipients, rep.Sent, rep.Failed, rep.Skipped)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print matches without delivering")
	cmd.Flags().IntVar(&lead, "lead", 0, "override the lead days (dry run only)")
	return cmd
}

func printDigest(out io.Writer, d notify.Digest) {
	fmt.Fprintf(out, "target %s (today %s, lead %d): %d match(es)\n",
		d.Target, d.Today, d.LeadDays, d.Len())
	for _, g := range d.Groups {
		fmt.Fprintf(out, "%s\n", g.Responsible)
		for _, it := range g.Items {
			fmt.Fprintf(out, "  #%d %s: %s\n", it.RequestID, it.RequestName, it.Kind.Name)
		}
	}
}

func parseRequestID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid request id %q", s)
	}
	return id, nil
}

func buildShowCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a request and its milestones",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			id, err := parseRequestID(args[0])
			if err != nil {
				return err
			}
			r, err := rt.engine.GetRequest(cmd.Context(), id)
			if err != nil {
				return err
			}
			lead, err := rt.store.LeadDays(cmd.Context(), 0)
			if err != nil {
				return err
			}
			printRequest(cmd.OutOrStdout(), rt.catalog, r, rt.engine.Today(), lead)
			return nil
		}),
	}
}

func printRequest(out io.Writer, cat *milestone.Catalog, r *milestone.Request, today milestone.Date, lead int) {
	fmt.Fprintf(out, "#%d %s\n", r.ID, r.Name)
	fmt.Fprintf(out, "service: %s  district: %s  unit: %s  responsible: %s\n\n",
		r.Service, r.District, r.Unit, r.Responsible)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tMILESTONE\tPLANNED\tACTUAL\tPOSTPONED")
	current := r.CurrentPosition()
	for pos, rec := range r.Records {
		mark := " "
		switch {
		case rec.Completed():
			mark = "x"
		case pos == current:
			mark = ">"
		}
		status := ""
		if pos == current {
			status = " (" + string(milestone.Classify(rec.Planned, today, lead)) + ")"
		}
		actual := rec.Actual.String()
		if rec.NotApplicable {
			actual = "n/a"
		}
		fmt.Fprintf(w, "%s\t%s\t%s%s\t%s\t%d\n", mark, cat.At(pos).Name, rec.Planned.String(), status, actual, rec.Postponements)
	}
	w.Flush()
}

func buildCompleteCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete the current milestone of a request",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			id, err := parseRequestID(args[0])
			if err != nil {
				return err
			}
			done, err := rt.engine.CompleteCurrentMilestone(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "completed %q on request %d\n", done.Completed.Name, id)
			if done.Handoff != "" {
				fmt.Fprintf(out, "responsible is now %q\n", done.Handoff)
			}
			if done.Finished() {
				fmt.Fprintln(out, "all planned milestones are complete")
			} else {
				fmt.Fprintf(out, "next: %q\n", done.Next.Name)
			}
			return nil
		}),
	}
}

func buildReplanCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "replan <id> <date>",
		Short: "Move the current milestone of a request to a new date",
		Long: `Move the current milestone to <date> (DD/MM/YYYY, YYYY-MM-DD or a relative
phrase such as "next friday"). Later milestones that would land on or before
their predecessor are pushed one day after it.`,
		Args: cobra.MinimumNArgs(2),
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			id, err := parseRequestID(args[0])
			if err != nil {
				return err
			}
			planned, err := bot.ParseUserDate(strings.Join(args[1:], " "), rt.now().In(rt.loc))
			if err != nil {
				return err
			}
			res, err := rt.engine.ReplanCurrentMilestone(cmd.Context(), id, planned)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "replanned %q on request %d: %s -> %s\n", res.Kind.Name, id, res.Previous, res.Planned)
			for _, a := range res.Adjustments {
				fmt.Fprintf(out, "  moved %q: %s -> %s\n", a.Kind.Name, a.Previous, a.Planned)
			}
			return nil
		}),
	}
}

var settingKeys = []string{store.SettingLeadDays, store.SettingNotificationTime, store.SettingAdminID, store.SettingLastSweep}

func buildSettingsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change runtime settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "Print one or all settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			keys := settingKeys
			if len(args) == 1 {
				keys = args
			}
			for _, k := range keys {
				v, ok, err := rt.store.GetSetting(cmd.Context(), k)
				if err != nil {
					return err
				}
				if !ok {
					v = "(unset)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, v)
			}
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change lead_days or notification_time",
		Args:  cobra.ExactArgs(2),
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			ctx := cmd.Context()
			switch args[0] {
			case store.SettingLeadDays:
				n, err := strconv.Atoi(args[1])
				if err != nil || n < 0 {
					return fmt.Errorf("lead_days must be a non-negative integer, got %q", args[1])
				}
				if err := rt.store.SetLeadDays(ctx, n); err != nil {
					return err
				}
			case store.SettingNotificationTime:
				if err := rt.store.SetNotificationTime(ctx, args[1]); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown setting %q (want %s or %s)", args[0], store.SettingLeadDays, store.SettingNotificationTime)
			}
			v, _, err := rt.store.GetSetting(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", args[0], v)
			return nil
		}),
	})
	return cmd
}
