package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/config"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/di"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/logger"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/services"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("repair_duplicate_ids", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	if err := flags.Parse(args); err != nil {
		return 2
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
		if err := app.Health.Check(ctx); err != nil {
			return err
		}
		return repair(ctx, app.Repair, stdout, app.Logger)
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error during ID repair: %v\n", err)
		return 1
	}
	return 0
}

func repair(ctx context.Context, svc *services.RepairService, stdout io.Writer, log *zap.Logger) error {
	fmt.Fprintln(stdout, "Starting ID repair")
	fmt.Fprintf(stdout, "Timestamp: %s\n", time.Now().Format(time.RFC3339))

	report, err := svc.RepairDuplicateIDs(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, "\nConversation IDs:")
	fmt.Fprintf(stdout, "  - Scanned %d conversations\n", report.Conversations)
	fmt.Fprintf(stdout, "  - Found %d duplicate IDs\n", report.ConversationDupes)
	fmt.Fprintf(stdout, "  - Renumbered %d conversations\n", report.ConversationsRenumbered)

	fmt.Fprintln(stdout, "\nPrompt IDs:")
	fmt.Fprintf(stdout, "  - Scanned %d prompts\n", report.Prompts)
	fmt.Fprintf(stdout, "  - Found %d duplicate IDs\n", report.PromptDupes)
	fmt.Fprintf(stdout, "  - Renumbered %d prompts\n", report.PromptsRenumbered)

	keys := make([]string, 0, len(report.CountersSet))
	for k := range report.CountersSet {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(stdout, "\nCounters set: %d\n", len(keys))
	for _, k := range keys {
		fmt.Fprintf(stdout, "  %s = %d\n", k, report.CountersSet[k])
	}

	verification, err := svc.VerifyUniqueIDs(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, "\nVerification:")
	if len(verification.DuplicateConversationIDs) == 0 {
		fmt.Fprintln(stdout, "  All conversation IDs are unique")
	} else {
		fmt.Fprintf(stdout, "  Duplicate conversation IDs remain: %v\n", verification.DuplicateConversationIDs)
	}
	if len(verification.DuplicatePromptIDs) == 0 {
		fmt.Fprintln(stdout, "  All prompt IDs are unique per user")
	} else {
		users := make([]string, 0, len(verification.DuplicatePromptIDs))
		for u := range verification.DuplicatePromptIDs {
			users = append(users, u)
		}
		sort.Strings(users)
		for _, u := range users {
			fmt.Fprintf(stdout, "  User %s has duplicate prompt IDs: %v\n", u, verification.DuplicatePromptIDs[u])
		}
	}
	if !verification.Clean() {
		// 修复过程中有并发写入时可能出现，再运行一次即可
		log.Warn("Duplicate IDs remain after repair")
	}

	fmt.Fprintf(stdout, "\nID repair completed, %d records updated\n", report.Writes())
	return nil
}
