package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/config"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/di"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/logger"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/services"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("create_test_codes", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	count := flags.Int("count", 1, "Number of test codes to create")
	list := flags.Bool("list", false, "List existing users")
	output := flags.String("output", "", "File to save created codes (default: test_codes_<timestamp>.txt)")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if !*list && *count <= 0 {
		fmt.Fprintln(stderr, "Error: --count must be positive")
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
		if *list {
			return listUsers(ctx, app.Users, stdout)
		}
		created, err := createTestCodes(ctx, app.Users, *count, stdout)
		if err != nil {
			return err
		}
		path := *output
		if path == "" {
			path = fmt.Sprintf("test_codes_%s.txt", time.Now().Format("20060102_150405"))
		}
		if err := saveCodes(path, created, time.Now()); err != nil {
			fmt.Fprintf(stderr, "Error saving codes to file: %v\n", err)
			return nil
		}
		fmt.Fprintf(stdout, "\nCodes saved to: %s\n", path)
		return nil
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// createTestCodes 测试用户默认已同意数据使用。全部失败时返回错误。
func createTestCodes(ctx context.Context, users *services.UserService, n int, stdout io.Writer) ([]string, error) {
	fmt.Fprintf(stdout, "Creating %d test user codes...\n", n)
	var created []string
	var failures int
	for i := 0; i < n; i++ {
		code, err := users.GenerateUniqueUserCode(ctx)
		if err == nil {
			_, err = users.CreateUser(ctx, code, models.ConsentGiven)
		}
		if err != nil {
			failures++
			fmt.Fprintf(stdout, "Failed to create user %d: %v\n", i+1, err)
			continue
		}
		created = append(created, code)
		fmt.Fprintf(stdout, "Created test user: %s\n", code)
	}

	fmt.Fprintln(stdout, "\n"+strings.Repeat("=", 50))
	fmt.Fprintln(stdout, "SUMMARY")
	fmt.Fprintln(stdout, strings.Repeat("=", 50))
	fmt.Fprintf(stdout, "Successfully created: %d codes\n", len(created))
	fmt.Fprintf(stdout, "Failed: %d codes\n", failures)
	if len(created) > 0 {
		fmt.Fprintln(stdout, "\nCREATED TEST CODES:")
		for _, code := range created {
			fmt.Fprintf(stdout, "  %s\n", code)
		}
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("no test codes created")
	}
	return created, nil
}

func saveCodes(path string, codes []string, at time.Time) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Test Codes Generated: %s\n", at.Format(time.RFC3339))
	fmt.Fprintf(&b, "Total Created: %d\n", len(codes))
	b.WriteString(strings.Repeat("=", 50) + "\n")
	b.WriteString("CODES:\n")
	for _, code := range codes {
		b.WriteString(code + "\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func consentMark(c models.Consent) string {
	switch c {
	case models.ConsentGiven:
		return "yes"
	case models.ConsentDeclined:
		return "no"
	default:
		return "?"
	}
}

func listUsers(ctx context.Context, users *services.UserService, stdout io.Writer) error {
	all, err := users.ListUsers(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Total users in store: %d\n", len(all))
	fmt.Fprintln(stdout, strings.Repeat("=", 50))
	// 最新的在前
	for i := len(all) - 1; i >= 0; i-- {
		u := all[i]
		fmt.Fprintf(stdout, "Code: %s | Consent: %s | Created: %s\n",
			u.Code, consentMark(u.DataUseConsent), u.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
