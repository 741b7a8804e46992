package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/config"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/di"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/logger"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/services"
	"github.com/spf13/pflag"
)

type deps struct {
	prompts       *services.PromptService
	conversations *services.ConversationService
	store         repository.Store
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("backfill_token_counts", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	withConversations := flags.Bool("conversations", false, "Also recompute per-message token counts and conversation totals")
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
		d := deps{prompts: app.Prompts, conversations: app.Conversations, store: app.Store}
		return backfill(ctx, d, *withConversations, stdout)
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error updating token counts: %v\n", err)
		return 1
	}
	return 0
}

func backfill(ctx context.Context, d deps, withConversations bool, stdout io.Writer) error {
	fmt.Fprintf(stdout, "Updating prompt token counts (tokenizer %s)...\n", services.TokenizerName)

	updated, err := d.prompts.BackfillTokenCounts(ctx)
	if err != nil {
		return err
	}
	if updated > 0 {
		fmt.Fprintf(stdout, "Updated %d prompts with token count fields\n", updated)
	} else {
		fmt.Fprintln(stdout, "No prompts needed updating")
	}

	total, err := d.store.Prompts().Count(ctx)
	if err != nil {
		return fmt.Errorf("count prompts: %w", err)
	}
	pending, err := d.store.Prompts().ListNeedingTokenBackfill(ctx)
	if err != nil {
		return fmt.Errorf("list prompts needing backfill: %w", err)
	}
	fmt.Fprintln(stdout, "\nStatistics:")
	fmt.Fprintf(stdout, "  Total prompts: %d\n", total)
	fmt.Fprintf(stdout, "  Prompts with token fields: %d\n", total-int64(len(pending)))
	fmt.Fprintf(stdout, "  Prompts needing update: %d\n", len(pending))

	if !withConversations {
		return nil
	}
	recomputed, err := d.conversations.RecomputeAllTokenStats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "\nRecomputed token stats for %d conversations\n", recomputed)
	return nil
}
