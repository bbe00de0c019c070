package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/s4sarath/rosetta/internal/logger"
	"github.com/s4sarath/rosetta/internal/memory"
	"github.com/s4sarath/rosetta/internal/translator"
)

func translateCmd() *cli.Command {
	var (
		cpuProfile string
		memProfile string
	)

	flags := append(commonModelFlags(), decodeFlags()...)
	flags = append(flags, memoryFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		// Profiling flags
		&cli.StringFlag{
			Name:        "cpuprofile",
			Usage:       "write cpu profile to file",
			Destination: &cpuProfile,
		},
		&cli.StringFlag{
			Name:        "memprofile",
			Usage:       "write memory profile to file",
			Destination: &memProfile,
		},
	)

	return &cli.Command{
		Name:      "translate",
		Usage:     "Translate text with beam search",
		ArgsUsage: "[text]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if cpuProfile != "" {
				f, err := os.Create(cpuProfile)
				if err != nil {
					return cli.Exit(fmt.Sprintf("could not create CPU profile: %v", err), 1)
				}
				defer func() { _ = f.Close() }()
				if err := pprof.StartCPUProfile(f); err != nil {
					return cli.Exit(fmt.Sprintf("could not start CPU profile: %v", err), 1)
				}
				defer pprof.StopCPUProfile()
			}

			if memProfile != "" {
				defer func() {
					f, err := os.Create(memProfile)
					if err != nil {
						fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
						return
					}
					defer func() { _ = f.Close() }()
					if err := pprof.WriteHeapProfile(f); err != nil {
						fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
					}
				}()
			}

			applyDecodeConfig(c, LoadConfig())
			log := newLogger()

			mem := openMemory(ctx, log)
			if mem != nil {
				defer func() { _ = mem.Close() }()
			}

			tr, err := openTranslator(log, mem)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = tr.Close() }()

			text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if text != "" {
				res, err := tr.Translate(ctx, text, translator.Options{})
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: translate: %v", err), 1)
				}
				fmt.Println(res.Text)
				printTranslationStats(res)
				return nil
			}

			fmt.Fprintln(os.Stderr, "Interactive mode. Type /exit to quit.")
			for {
				line, err := readInteractiveLine("> ")
				if err != nil {
					if errors.Is(err, io.EOF) {
						return nil
					}
					return cli.Exit(fmt.Sprintf("error: read input: %v", err), 1)
				}
				input := strings.TrimSpace(line)
				if input == "/exit" {
					return nil
				}
				if input == "" {
					continue
				}

				res, err := tr.Translate(ctx, input, translator.Options{})
				if err != nil {
					fmt.Fprintln(os.Stderr, "error: translate:", err)
					continue
				}
				fmt.Println(res.Text)
				printTranslationStats(res)
			}
		},
	}
}

// openTranslator resolves the model path, checks the bundle, and loads
// the translator with the decode flags applied.
func openTranslator(log logger.Logger, mem *memory.Store) (*translator.Translator, error) {
	resolved, err := resolveModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("resolve model: %w", err)
	}

	stat, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat model path %q: %w", resolved, err)
	}
	if stat.IsDir() || !strings.HasSuffix(strings.ToLower(resolved), ".rtb") {
		return nil, fmt.Errorf("%s is not an .rtb bundle", resolved)
	}

	cfg := translator.Config{
		BeamWidth: int(beamWidth),
		MaxSteps:  int(maxSteps),
		Parallel:  int(parallel),
		Logger:    log,
	}
	if mem != nil {
		cfg.Memory = mem
	}

	loadStart := time.Now()
	tr, err := translator.Open(resolved, cfg)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	info := tr.Info()
	log.Info("model loaded",
		"model", filepath.Base(resolved),
		"arch", info.Arch,
		"layers", info.Layers,
		"size", humanize.Bytes(uint64(info.FileSize)),
		"duration", time.Since(loadStart).Round(time.Millisecond))
	return tr, nil
}

// openMemory wires the translation memory unless disabled. A memory
// that fails to open is reported and skipped; decoding never depends
// on it.
func openMemory(ctx context.Context, log logger.Logger) *memory.Store {
	if noMemory {
		return nil
	}
	path := strings.TrimSpace(memoryPath)
	if path == "" {
		path = defaultMemoryPath()
	}
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn("translation memory unavailable", "path", path, "error", err)
		return nil
	}
	mem := memory.NewStore(path)
	if err := mem.Init(ctx); err != nil {
		log.Warn("translation memory unavailable", "path", path, "error", err)
		return nil
	}
	if n, err := mem.Count(ctx); err == nil {
		log.Debug("translation memory open", "path", path, "entries", n)
	} else {
		log.Debug("translation memory open", "path", path)
	}
	return mem
}

func printTranslationStats(res *translator.Translation) {
	marks := ""
	if res.Cached {
		marks += ", memory hit"
	}
	if !res.Finished {
		marks += ", truncated"
	}
	fmt.Fprintf(os.Stderr, "Stats: score %.4f (%d tokens in %s%s)\n",
		res.Score, res.TokenCount, res.Duration.Round(time.Millisecond), marks)
}
