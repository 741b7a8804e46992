package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/config"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/di"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/llm"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/logger"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("chat", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	var opts options
	flags.StringVar(&opts.code, "code", "", "Access code (5 alphanumeric characters)")
	flags.StringVar(&opts.consent, "consent", "", "Data use consent for new users: yes or no")
	flags.StringVar(&opts.promptID, "prompt", "", "Start a new conversation with this prompt, e.g. P001")
	flags.StringVar(&opts.conversationID, "conversation", "", "Continue this conversation, e.g. C001")
	flags.StringVar(&opts.newPrompt, "new-prompt", "", "Create a prompt with this text and start a conversation with it")
	flags.StringSliceVar(&opts.docs, "doc", nil, "Document to attach to --new-prompt (PDF, DOCX or text), repeatable")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if opts.code == "" {
		fmt.Fprintln(stderr, "Error: --code is required")
		flags.PrintDefaults()
		return 2
	}
	if opts.promptID != "" && opts.conversationID != "" {
		fmt.Fprintln(stderr, "Error: --prompt and --conversation are mutually exclusive")
		return 2
	}
	if len(opts.docs) > 0 && opts.newPrompt == "" {
		fmt.Fprintln(stderr, "Error: --doc requires --new-prompt")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = di.Run(cfg, logger.GetLogger(), func(_ context.Context, app di.App) error {
		var client llm.Client
		if err := di.Invoke(func(c llm.Client) { client = c }); err != nil {
			// 没有补全接口时仍可浏览和创建提示词
			app.Logger.Warn("Completion client unavailable", zap.Error(err))
		}
		s := newSession(app.Users, app.Prompts, app.Conversations, client, stdin, stdout)
		return s.run(ctx, opts)
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
