package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/config"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/di"
	apperrors "github.com/bronsonhill/prompting-task-ISLM10002/internal/errors"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/logger"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/services"
	"github.com/spf13/pflag"
)

const usageExamples = `
Examples:
  manage_admin_codes --init-secure
  manage_admin_codes --list
  manage_admin_codes --add ABC12 --level admin
  manage_admin_codes --add XYZ99 --level super_admin
  manage_admin_codes --remove TEST1
  manage_admin_codes --stats
  manage_admin_codes --stats --user AB12C
`

// recentActions --stats --user 显示的最近审计记录条数
const recentActions = 10

type options struct {
	add        string
	level      string
	remove     string
	list       bool
	init       bool
	initSecure bool
	stats      bool
	user       string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("manage_admin_codes", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	var opts options
	flags.StringVar(&opts.add, "add", "", "Add a new admin code (5 alphanumeric characters)")
	flags.StringVar(&opts.level, "level", "admin", "Admin level for new code: admin or super_admin")
	flags.StringVar(&opts.remove, "remove", "", "Remove an admin code (cannot remove super admins)")
	flags.BoolVar(&opts.list, "list", false, "List all admin codes in the store")
	flags.BoolVar(&opts.init, "init", false, "Create the initial admin code (deprecated, use --init-secure)")
	flags.BoolVar(&opts.initSecure, "init-secure", false, "Create a secure initial super_admin code")
	flags.BoolVar(&opts.stats, "stats", false, "Show usage statistics")
	flags.StringVar(&opts.user, "user", "", "With --stats, show activity for this user code")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "Usage: manage_admin_codes [flags]")
		flags.PrintDefaults()
		fmt.Fprint(stderr, usageExamples)
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if opts.user != "" && !opts.stats {
		fmt.Fprintln(stderr, "Error: --user requires --stats")
		return 2
	}
	if opts.add == "" && opts.remove == "" && !opts.list && !opts.init && !opts.initSecure && !opts.stats {
		flags.Usage()
		return 0
	}

	cfg, err := config.LoadAppConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to load config: %v\n", err)
		return 1
	}
	if err := logger.InitLogger(); err != nil {
		fmt.Fprintf(stderr, "Error: failed to init logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	err = di.Run(cfg, logger.GetLogger(), func(ctx context.Context, app di.App) error {
		if opts.stats {
			return showStats(ctx, app.Stats, opts.user, stdout)
		}
		return execute(ctx, app.Admins, opts, stdout, stderr)
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if apperrors.IsStoreUnavailable(err) || !apperrors.IsAppError(err) {
			fmt.Fprintln(stderr, "Check the store connection settings (CONFIG_FILE, MONGODB_URI, DATABASE_URL).")
		}
		return 1
	}
	return 0
}

func execute(ctx context.Context, admins *services.AdminService, opts options, stdout, stderr io.Writer) error {
	switch {
	case opts.initSecure:
		return initialize(ctx, admins, stdout)
	case opts.init:
		fmt.Fprintln(stderr, "Warning: --init is deprecated. Use --init-secure instead.")
		return initialize(ctx, admins, stdout)
	case opts.list:
		return list(ctx, admins, stdout)
	case opts.add != "":
		if err := admins.AddAdminCode(ctx, opts.add, opts.level, "script"); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Added admin code '%s' with level '%s'\n", services.NormalizeCode(opts.add), opts.level)
	case opts.remove != "":
		if err := admins.RemoveAdminCode(ctx, opts.remove, "script"); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Removed admin code '%s'\n", services.NormalizeCode(opts.remove))
	}
	return nil
}

func initialize(ctx context.Context, admins *services.AdminService, stdout io.Writer) error {
	code, err := admins.BootstrapInitialAdmin(ctx)
	if err != nil {
		return err
	}
	if code == "" {
		fmt.Fprintln(stdout, "Admin codes already exist in the store.")
		fmt.Fprintln(stdout, "  Use --list to see current admin codes.")
		fmt.Fprintln(stdout, "  Use --add to create additional admin codes.")
		return nil
	}
	fmt.Fprintln(stdout, "Secure admin code created.")
	fmt.Fprintf(stdout, "\nADMIN CODE: %s\n", code)
	fmt.Fprintln(stdout, "IMPORTANT: save this code securely, it cannot be recovered.")
	fmt.Fprintln(stdout, "  Use it to log in as a super administrator.")
	return nil
}

func list(ctx context.Context, admins *services.AdminService, stdout io.Writer) error {
	codes, err := admins.ListAdminCodes(ctx, true)
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		fmt.Fprintln(stdout, "No admin codes found in the store.")
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tLEVEL\tSTATUS\tADDED BY\tCREATED")
	for _, c := range codes {
		created := "Unknown"
		if !c.CreatedAt.IsZero() {
			created = c.CreatedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Code, c.Level, c.Status, c.AddedBy, created)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	sum := services.Summarize(codes)
	fmt.Fprintln(stdout, "\nSummary:")
	fmt.Fprintf(stdout, "  Total admin codes: %d\n", sum.Total)
	fmt.Fprintf(stdout, "  Active codes: %d\n", sum.Active)
	fmt.Fprintf(stdout, "  Super admins: %d\n", sum.SuperAdmins)
	fmt.Fprintf(stdout, "  Regular admins: %d\n", sum.Admins)
	return nil
}

// showStats 系统统计；userCode 非空时显示该用户的活动
func showStats(ctx context.Context, stats *services.StatsService, userCode string, stdout io.Writer) error {
	if userCode != "" {
		activity, err := stats.UserActivity(ctx, userCode, recentActions)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "User %s\n", activity.UserCode)
		fmt.Fprintf(stdout, "  Prompts: %d\n", activity.Prompts)
		fmt.Fprintf(stdout, "  Conversations: %d\n", activity.Conversations)
		if len(activity.RecentActions) == 0 {
			fmt.Fprintln(stdout, "  No recorded activity.")
			return nil
		}
		fmt.Fprintln(stdout, "\nRecent activity:")
		tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		for _, entry := range activity.RecentActions {
			fmt.Fprintf(tw, "  %s\t%s\n", entry.Timestamp.Format("2006-01-02 15:04:05"), entry.Action)
		}
		return tw.Flush()
	}

	sys, err := stats.SystemStatistics(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, "System statistics:")
	fmt.Fprintf(stdout, "  Total users: %d\n", sys.TotalUsers)
	fmt.Fprintf(stdout, "  Total prompts: %d\n", sys.TotalPrompts)
	fmt.Fprintf(stdout, "  Total conversations: %d\n", sys.Conversations)
	fmt.Fprintf(stdout, "  Total messages: %d\n", sys.Messages)
	fmt.Fprintf(stdout, "  Input tokens: %d\n", sys.TotalInputTokens)
	fmt.Fprintf(stdout, "  Output tokens: %d\n", sys.TotalOutputTokens)
	fmt.Fprintln(stdout, "\nData use consent:")
	fmt.Fprintf(stdout, "  Given: %d\n", sys.Consent.Given)
	fmt.Fprintf(stdout, "  Declined: %d\n", sys.Consent.Declined)
	fmt.Fprintf(stdout, "  Pending: %d\n", sys.Consent.Pending)
	return nil
}
