package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/config"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/di"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/logger"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("create_student_codes", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	output := flags.String("output", "", "Augmented CSV path (default: <input>_with_codes.csv)")
	report := flags.String("report", "", "Summary report path (default: student_codes_report_<timestamp>.txt)")
	sample := flags.String("sample", "", "Write a sample roster to this path and exit")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "Usage: create_student_codes <csv-path> [--output path] [--report path]")
		fmt.Fprintln(stderr, "       create_student_codes --sample path")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *sample != "" {
		if err := os.WriteFile(*sample, []byte(sampleRoster), 0o644); err != nil {
			fmt.Fprintf(stderr, "Error: failed to write sample roster: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Sample roster written to %s\n", *sample)
		return 0
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return 2
	}
	input := flags.Arg(0)

	// 先校验名单，列缺失时不连接存储
	f, err := os.Open(input)
	if err != nil {
		fmt.Fprintf(stderr, "Error: cannot read roster: %v\n", err)
		return 1
	}
	ros, err := readRoster(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	now := time.Now()
	if *output == "" {
		*output = defaultOutputPath(input)
	}
	if *report == "" {
		*report = fmt.Sprintf("student_codes_report_%s.txt", now.Format("20060102_150405"))
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

	var res rosterResult
	err = di.Run(cfg, logger.GetLogger(), func(ctx context.Context, app di.App) error {
		if err := app.Health.Check(ctx); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Creating codes for %d roster rows...\n", len(ros.rows))
		res = ros.assignCodes(ctx, app.Users)
		return nil
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := writeFile(*output, ros.write); err != nil {
		fmt.Fprintf(stderr, "Error: failed to save CSV: %v\n", err)
		return 1
	}
	if err := writeFile(*report, func(w io.Writer) error { return writeReport(w, res, now) }); err != nil {
		fmt.Fprintf(stderr, "Error: failed to save report: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, strings.Repeat("=", 60))
	fmt.Fprintln(stdout, "SUMMARY REPORT")
	fmt.Fprintln(stdout, strings.Repeat("=", 60))
	fmt.Fprintf(stdout, "Created: %d codes\n", len(res.Created))
	fmt.Fprintf(stdout, "Skipped (existing code): %d\n", res.Skipped)
	fmt.Fprintf(stdout, "Failed: %d\n", len(res.Failed))
	fmt.Fprintf(stdout, "Codes saved to: %s\n", *output)
	fmt.Fprintf(stdout, "Report saved to: %s\n", *report)
	if len(res.Failed) > 0 {
		return 1
	}
	return 0
}

func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_with_codes.csv"
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
