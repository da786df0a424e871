// Command paperparse runs the question paper pipeline on local PDFs without
// the API server, for tuning layout thresholds against real papers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sahilchouksey/upsc-prep-api/services/paperparser"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "paperparse",
		Short:        "Parse MCQ question papers and answer keys into question records",
		SilenceUsage: true,
	}
	root.AddCommand(parseCmd(), inspectCmd())
	return root
}

func parseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Run the full pipeline and write the records as JSON",
		RunE:  runParse,
	}
	f := cmd.Flags()
	f.StringP("paper", "p", "", "Question paper PDF (required)")
	f.StringP("key", "k", "", "Answer key PDF")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.Duration("timeout", 2*time.Minute, "Give up after this long")
	addTunableFlags(cmd)
	_ = cmd.MarkFlagRequired("paper")
	return cmd
}

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print reconstructed lines with page, column and marker kind",
		RunE:  runInspect,
	}
	f := cmd.Flags()
	f.String("pdf", "", "PDF to inspect (required)")
	addTunableFlags(cmd)
	_ = cmd.MarkFlagRequired("pdf")
	return cmd
}

func addTunableFlags(cmd *cobra.Command) {
	d := paperparser.DefaultConfig()
	f := cmd.Flags()
	f.Float64("line-tolerance", d.Layout.LineTolerance, "Fraction of font size within which fragments share a line")
	f.Float64("column-gap", d.Layout.ColumnGapThreshold, "Minimum gap in points between columns")
	f.Int("column-min-bands", d.Layout.ColumnMinBands, "Lines that must share a gap before a page is split")
	f.Float64("word-gap-ratio", d.Layout.WordGapRatio, "Gap, as a fraction of font size, that inserts a space")
	f.Float64("script-dominance", d.Script.DominanceThreshold, "Share of letters for a line to count as one script")
	f.String("log-level", "warn", "Log level (debug, info, warn, error)")
}

// viperForCmd binds a command's flags, PAPERPARSE_* variables and an
// optional paperparse.yaml to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("PAPERPARSE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("paperparse")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/paperparse")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: error reading config file: %v\n", err)
		}
	}
	return v
}

func configFrom(v *viper.Viper) (paperparser.Config, error) {
	cfg := paperparser.Config{
		Layout: paperparser.LayoutConfig{
			LineTolerance:      v.GetFloat64("line-tolerance"),
			ColumnGapThreshold: v.GetFloat64("column-gap"),
			ColumnMinBands:     v.GetInt("column-min-bands"),
			WordGapRatio:       v.GetFloat64("word-gap-ratio"),
		},
		Script: paperparser.ScriptConfig{
			DominanceThreshold: v.GetFloat64("script-dominance"),
		},
	}
	return cfg, cfg.Validate()
}

// newLogger logs to stderr so stdout stays clean for JSON output
func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.WarnLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

type parseOutput struct {
	Summary   paperparser.Summary          `json:"summary"`
	Warnings  []paperparser.Warning        `json:"warnings"`
	Questions []paperparser.QuestionRecord `json:"questions"`
}

func runParse(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	cfg, err := configFrom(v)
	if err != nil {
		return err
	}
	log := newLogger(v.GetString("log-level"))
	defer func() { _ = log.Sync() }()

	paper, err := os.ReadFile(v.GetString("paper"))
	if err != nil {
		return fmt.Errorf("cannot read question paper: %w", err)
	}
	var key []byte
	if path := v.GetString("key"); path != "" {
		key, err = os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("cannot read answer key: %w", err)
		}
	}

	pipeline, err := paperparser.NewPipeline(paperparser.Options{
		Config: cfg,
		Logger: log,
		OnStateChange: func(s paperparser.State) {
			log.Debug("state", zap.String("state", string(s)))
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
	defer cancel()

	res, err := pipeline.Run(ctx, paper, key)
	if err != nil {
		return fmt.Errorf("%s: %w", paperparser.FailureKind(err), err)
	}

	out := cmd.OutOrStdout()
	if path := v.GetString("output"); path != "-" && path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("cannot create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := writeJSON(out, parseOutput{
		Summary:   res.Summary,
		Warnings:  res.Warnings,
		Questions: res.Records,
	}); err != nil {
		return err
	}

	s := res.Summary
	fmt.Fprintf(cmd.ErrOrStderr(), "%d questions (%d invalid), %d answers resolved, %d unresolved, %d warnings\n",
		s.TotalQuestions, s.InvalidQuestions, s.ResolvedAnswers, s.UnresolvedAnswers, len(res.Warnings))
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func runInspect(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	cfg, err := configFrom(v)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(v.GetString("pdf"))
	if err != nil {
		return fmt.Errorf("cannot read pdf: %w", err)
	}
	doc, err := paperparser.Open(data)
	if err != nil {
		return err
	}
	pages, _, err := doc.Pages()
	if err != nil {
		return err
	}

	lines := paperparser.NewLayoutReconstructor(cfg.Layout).ReconstructDocument(pages)

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAGE\tCOL\tY\tKIND\tTEXT")
	for _, l := range lines {
		m := paperparser.ClassifyLine(l.Text)
		kind := m.Kind.String()
		if m.Kind == paperparser.QuestionStart {
			kind = fmt.Sprintf("question %d", m.Number)
		}
		fmt.Fprintf(tw, "%d\t%d\t%.1f\t%s\t%s\n", l.Page, l.Column, l.Y, kind, l.Text)
	}
	return tw.Flush()
}
