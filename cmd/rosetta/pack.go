package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/s4sarath/rosetta/internal/model"
	"github.com/s4sarath/rosetta/internal/vocab"
	"github.com/s4sarath/rosetta/pkg/bundle"
)

func packCmd() *cli.Command {
	var (
		inDir   string
		outFlag string
		dtype   string
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Pack a manifest directory into a single .rtb bundle",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"in"},
				Usage:       "manifest directory containing model.json, vocab.src.json, vocab.tgt.json, tensors.json",
				Destination: &inDir,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"out", "o"},
				Usage:       "output .rtb path (defaults under $" + envRosettaPackOutDir + " or ./out)",
				Destination: &outFlag,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "stored weight encoding: f32 or f16",
				Value:       "f32",
				Destination: &dtype,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx

			if err := checkManifest(inDir); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			outPath, defaulted, err := resolvePackOut(inDir, outFlag)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: resolve output: %v", err), 1)
			}
			if defaulted {
				fmt.Fprintf(os.Stderr, "pack: writing %s\n", outPath)
			}

			started := time.Now()
			res, err := bundle.Pack(bundle.PackOptions{
				InputDir:   inDir,
				OutputPath: outPath,
				DType:      bundle.DType(dtype),
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: pack: %v", err), 1)
			}

			summary := fmt.Sprintf("Packed %s tensors (%s", humanize.Comma(int64(res.Tensors)), humanize.IBytes(res.TensorBytes))
			if res.Reused > 0 {
				summary += fmt.Sprintf(", %d shared", res.Reused)
			}
			summary += fmt.Sprintf(") into %s (%s) in %s", outPath, humanize.IBytes(res.FileSize), time.Since(started).Round(time.Millisecond))
			fmt.Println(summary)
			return nil
		},
	}
}

// checkManifest validates the manifest JSON against the runtime types
// before packing, so a broken model.json fails here rather than at load
// time on another machine.
func checkManifest(dir string) error {
	cfgData, err := os.ReadFile(filepath.Join(dir, bundle.ManifestModelInfo))
	if err != nil {
		return err
	}
	var cfg model.Config
	if err := json.Unmarshal(cfgData, &cfg); err != nil {
		return fmt.Errorf("parse %s: %w", bundle.ManifestModelInfo, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	src, err := vocab.LoadFile(filepath.Join(dir, bundle.ManifestSourceVocab))
	if err != nil {
		return err
	}
	tgt, err := vocab.LoadFile(filepath.Join(dir, bundle.ManifestTargetVocab))
	if err != nil {
		return err
	}
	if src.Size() != cfg.SrcVocab {
		return fmt.Errorf("%s has %d tokens, %s declares src_vocab %d",
			bundle.ManifestSourceVocab, src.Size(), bundle.ManifestModelInfo, cfg.SrcVocab)
	}
	if tgt.Size() != cfg.TgtVocab {
		return fmt.Errorf("%s has %d tokens, %s declares tgt_vocab %d",
			bundle.ManifestTargetVocab, tgt.Size(), bundle.ManifestModelInfo, cfg.TgtVocab)
	}
	return nil
}
