package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/s4sarath/rosetta/internal/translator"
)

const maxReportedFailures = 10

func batchCmd() *cli.Command {
	var (
		outPath string
		workers int64
	)

	flags := append(commonModelFlags(), decodeFlags()...)
	flags = append(flags, memoryFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "output file (defaults to <input>.out)",
			Destination: &outPath,
		},
		&cli.Int64Flag{
			Name:        "workers",
			Aliases:     []string{"w"},
			Usage:       "concurrent decodes (0 = GOMAXPROCS)",
			Destination: &workers,
		},
	)

	return &cli.Command{
		Name:      "batch",
		Usage:     "Translate a file line by line",
		ArgsUsage: "<input-file>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			inPath := strings.TrimSpace(c.Args().First())
			if inPath == "" {
				return cli.Exit("error: input file is required", 1)
			}
			if outPath == "" {
				outPath = inPath + ".out"
			}

			applyDecodeConfig(c, LoadConfig())
			log := newLogger()

			lines, err := readLines(inPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read input: %v", err), 1)
			}
			if len(lines) == 0 {
				return cli.Exit(fmt.Sprintf("error: %s has no lines", inPath), 1)
			}

			mem := openMemory(ctx, log)
			if mem != nil {
				defer func() { _ = mem.Close() }()
			}

			tr, err := openTranslator(log, mem)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = tr.Close() }()

			bar := progressbar.Default(int64(len(lines)), "translating")
			started := time.Now()
			results, errs := tr.TranslateAll(ctx, lines, translator.Options{}, int(workers), func() {
				_ = bar.Add(1)
			})
			_ = bar.Finish()
			elapsed := time.Since(started)

			if err := writeLines(outPath, results); err != nil {
				return cli.Exit(fmt.Sprintf("error: write output: %v", err), 1)
			}

			failed := reportFailures(errs)
			ok := len(lines) - failed
			fmt.Fprintf(os.Stderr, "Translated %s of %s lines to %s in %s\n",
				humanize.Comma(int64(ok)), humanize.Comma(int64(len(lines))), outPath, elapsed.Round(time.Millisecond))

			if err := ctx.Err(); err != nil {
				return cli.Exit(fmt.Sprintf("error: batch interrupted: %v", err), 1)
			}
			if ok == 0 {
				return cli.Exit("error: every line failed to translate", 1)
			}
			return nil
		},
	}
}

// readLines loads the batch input. Every line keeps its index so the
// output file stays line-aligned with the input, blank lines included.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// writeLines writes one output line per input line. Failed lines stay
// empty so downstream tooling can line up source and translation.
func writeLines(path string, results []*translator.Translation) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, res := range results {
		if res != nil {
			_, _ = w.WriteString(res.Text)
		}
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func reportFailures(errs []error) int {
	failed := 0
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed++
		if failed > maxReportedFailures {
			continue
		}
		if errors.Is(err, translator.ErrEmptyInput) {
			fmt.Fprintf(os.Stderr, "line %d: empty\n", i+1)
			continue
		}
		fmt.Fprintf(os.Stderr, "line %d: %v\n", i+1, err)
	}
	if failed > maxReportedFailures {
		fmt.Fprintf(os.Stderr, "... and %s more failed lines\n", humanize.Comma(int64(failed-maxReportedFailures)))
	}
	return failed
}
