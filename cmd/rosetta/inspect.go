package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/s4sarath/rosetta/internal/model"
	"github.com/s4sarath/rosetta/internal/vocab"
	"github.com/s4sarath/rosetta/pkg/bundle"
)

func inspectCmd() *cli.Command {
	var (
		bundlePath   string
		showAll      bool
		showSections bool
		showTensors  bool
		showVocab    bool
		showRawInfo  bool
		tensorLimit  int
		vocabLimit   int
		tensorFilter string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of an .rtb bundle",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .rtb bundle",
				Destination: &bundlePath,
				Required:    true,
			},
			&cli.BoolFlag{Name: "all", Usage: "show all sections and listings", Destination: &showAll},
			&cli.BoolFlag{Name: "sections", Usage: "show section directory", Destination: &showSections},
			&cli.BoolFlag{Name: "tensors", Usage: "list tensor index", Destination: &showTensors},
			&cli.BoolFlag{Name: "vocab", Usage: "list vocabulary entries", Destination: &showVocab},
			&cli.BoolFlag{Name: "model-info", Usage: "print raw model-info JSON", Destination: &showRawInfo},
			&cli.IntFlag{Name: "tensors-limit", Usage: "limit tensor listing (0 = no limit)", Value: 50, Destination: &tensorLimit},
			&cli.IntFlag{Name: "vocab-limit", Usage: "limit vocab listing (0 = no limit)", Value: 50, Destination: &vocabLimit},
			&cli.StringFlag{Name: "tensor-filter", Usage: "substring filter for tensor listing", Destination: &tensorFilter},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx

			if showAll {
				showSections = true
				showTensors = true
				showVocab = true
				showRawInfo = true
				if tensorLimit == 50 {
					tensorLimit = 0
				}
				if vocabLimit == 50 {
					vocabLimit = 0
				}
			}

			stat, err := os.Stat(bundlePath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stat model path %q: %v", bundlePath, err), 1)
			}
			if stat.IsDir() || !strings.HasSuffix(strings.ToLower(bundlePath), ".rtb") {
				return cli.Exit("error: rosetta inspect only supports .rtb bundles", 1)
			}

			bf, err := bundle.Open(bundlePath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open bundle: %v", err), 1)
			}
			defer func() { _ = bf.Close() }()

			fmt.Printf("RTB Inspect: %s\n", bundlePath)
			fmt.Printf("File: %s (%s)\n", filepath.Base(bundlePath), humanize.IBytes(uint64(stat.Size())))
			printBundleHeader(bf.Header)

			getData := func(t bundle.SectionType) []byte { return bf.SectionData(bf.Section(t)) }

			infoBytes := getData(bundle.SectionModelInfo)
			srcBytes := getData(bundle.SectionSourceVocab)
			tgtBytes := getData(bundle.SectionTargetVocab)
			indexBytes := getData(bundle.SectionTensorIndex)

			var dataSize uint64
			if s := bf.Section(bundle.SectionTensorData); s != nil {
				dataSize = s.Size
			}

			printParameters(infoBytes)
			section("Vocabulary")
			printVocabSummary("source", srcBytes)
			printVocabSummary("target", tgtBytes)
			printTensorSummary(indexBytes, dataSize)

			if showSections {
				printSectionDirectory(bf.Sections)
			}
			if showTensors {
				printTensorIndex(indexBytes, dataSize, tensorFilter, tensorLimit)
			}
			if showVocab {
				printVocabEntries("Source Vocab", srcBytes, vocabLimit)
				printVocabEntries("Target Vocab", tgtBytes, vocabLimit)
			}
			if showRawInfo {
				printRawSection("Model Info", infoBytes)
			}

			return nil
		},
	}
}

func printBundleHeader(h *bundle.Header) {
	if h == nil {
		return
	}
	fmt.Printf("RTB Header: v%d.%d sections=%d header=%dB file=%s\n",
		h.Major, h.Minor, h.SectionCount, h.HeaderSize, humanize.IBytes(h.FileSize))
}

func printParameters(infoBytes []byte) {
	section("Parameters")
	if len(infoBytes) == 0 {
		fmt.Println("(no model-info section)")
		return
	}
	var cfg model.Config
	if err := json.Unmarshal(infoBytes, &cfg); err != nil {
		fmt.Printf("(model-info parse error: %v)\n", err)
		return
	}
	row("arch", cfg.Arch)
	rowInt("d_model", cfg.DModel)
	rowInt("hidden", cfg.Hidden)
	rowInt("layers", cfg.Layers)
	rowInt("src_vocab", cfg.SrcVocab)
	rowInt("tgt_vocab", cfg.TgtVocab)
}

func printVocabSummary(name string, data []byte) {
	if len(data) == 0 {
		row(name+"_vocab", "(missing)")
		return
	}
	v, err := vocab.Load(bytes.NewReader(data))
	if err != nil {
		row(name+"_vocab", fmt.Sprintf("(parse error: %v)", err))
		return
	}
	row(name+"_vocab", fmt.Sprintf("%s tokens, pad=%q unk=%q bos=%q eos=%q",
		humanize.Comma(int64(v.Size())), v.Token(v.Pad()), v.Token(v.Unk()), v.Token(v.BOS()), v.Token(v.EOS())))
}

func printTensorSummary(indexBytes []byte, dataSize uint64) {
	section("Tensor Summary")
	if len(indexBytes) == 0 {
		fmt.Println("(no tensor index section)")
		return
	}
	ix, err := bundle.ParseTensorIndex(indexBytes, dataSize)
	if err != nil {
		fmt.Printf("(tensor index parse error: %v)\n", err)
		return
	}

	rowInt("tensors", len(ix.Tensors))

	dtypeCounts := map[bundle.DType]int{}
	dtypeBytes := map[bundle.DType]uint64{}
	var total uint64
	for i := range ix.Tensors {
		t := &ix.Tensors[i]
		dtypeCounts[t.DType]++
		dtypeBytes[t.DType] += t.Size
		total += t.Size
	}
	for _, d := range []bundle.DType{bundle.DTypeF32, bundle.DTypeF16} {
		if n := dtypeCounts[d]; n > 0 {
			row(string(d), fmt.Sprintf("%d tensors, %s", n, humanize.IBytes(dtypeBytes[d])))
		}
	}
	row("total", humanize.IBytes(total))
}

func printSectionDirectory(sections []bundle.Section) {
	section("Sections")
	for _, s := range sections {
		name := bundle.SectionType(s.Type).String()
		fmt.Printf("%-16s v%-2d off=%-10d size=%s\n", name, s.Version, s.Offset, humanize.IBytes(s.Size))
	}
}

func printTensorIndex(indexBytes []byte, dataSize uint64, filter string, limit int) {
	section("Tensor Index")
	if len(indexBytes) == 0 {
		fmt.Println("(no tensor index section)")
		return
	}
	ix, err := bundle.ParseTensorIndex(indexBytes, dataSize)
	if err != nil {
		fmt.Printf("(tensor index parse error: %v)\n", err)
		return
	}

	count := len(ix.Tensors)
	printed := 0
	for i := range ix.Tensors {
		t := &ix.Tensors[i]
		if filter != "" && !strings.Contains(t.Name, filter) {
			continue
		}
		fmt.Printf("%s  dtype=%s shape=%s size=%s\n", t.Name, t.DType, formatShape(t.Shape), humanize.IBytes(t.Size))
		printed++
		if limit > 0 && printed >= limit {
			break
		}
	}
	if limit > 0 && printed < count {
		fmt.Printf("... (%d shown of %d)\n", printed, count)
	}
}

func printVocabEntries(title string, data []byte, limit int) {
	section(title)
	if len(data) == 0 {
		fmt.Println("(missing)")
		return
	}
	var f vocab.File
	if err := json.Unmarshal(data, &f); err != nil {
		fmt.Printf("(parse error: %v)\n", err)
		return
	}
	shown := 0
	for id, tok := range f.Tokens {
		fmt.Printf("%6d  %s\n", id, tok)
		shown++
		if limit > 0 && shown >= limit {
			break
		}
	}
	if limit > 0 && shown < len(f.Tokens) {
		fmt.Printf("... (%d shown of %d)\n", shown, len(f.Tokens))
	}
}

func printRawSection(name string, data []byte) {
	section(name)
	if len(data) == 0 {
		fmt.Println("(missing)")
		return
	}
	fmt.Println(string(data))
}

func section(title string) {
	line := strings.Repeat("-", len(title)+8)
	fmt.Printf("\n%s\n--- %s ---\n%s\n", line, title, line)
}

func row(label, value string) {
	if value == "" {
		return
	}
	fmt.Printf("%-24s %s\n", label+":", value)
}

func rowInt(label string, v int) {
	if v == 0 {
		return
	}
	row(label, fmt.Sprintf("%d", v))
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "[" + strings.Join(parts, "x") + "]"
}
