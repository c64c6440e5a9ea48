package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"torg12-server/internal/formtemplate"
	"torg12-server/internal/logging"
	"torg12-server/internal/service"
	"torg12-server/internal/streaming"
)

// newService builds a session-less pipeline for one-shot commands. Logs go
// to stderr so command output stays clean.
func newService() (*service.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(logging.ForStdio(cfg.Monitoring.Logging))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return service.New(cfg, nil, logger)
}

func readWorkbook(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func printJSON(v interface{}, pretty bool) error {
	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func analyzeCmd() *cobra.Command {
	var pretty, ndjson bool

	cmd := &cobra.Command{
		Use:   "analyze FILE",
		Short: "Print the style analysis of a workbook as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			data, err := readWorkbook(args[0])
			if err != nil {
				return err
			}

			analysis, err := svc.Analyze(cmd.Context(), data)
			if err != nil {
				return err
			}
			if ndjson {
				return streaming.StreamAnalysis(cmd.Context(), os.Stdout, analysis, streaming.DefaultBatchSize)
			}
			return printJSON(analysis, pretty)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Pretty-print JSON output")
	cmd.Flags().BoolVar(&ndjson, "ndjson", false, "Stream the analysis as NDJSON batches")
	return cmd
}

func modifyCmd() *cobra.Command {
	var text, out string

	cmd := &cobra.Command{
		Use:   "modify FILE",
		Short: "Write comment text into a workbook and restore its styles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			data, err := readWorkbook(args[0])
			if err != nil {
				return err
			}

			name := ""
			if out != "" {
				name = filepath.Base(out)
			}
			result, err := svc.Modify(cmd.Context(), data, text, name)
			if err != nil {
				return err
			}
			if out == "" {
				out = result.Filename
			}
			if err := os.WriteFile(out, result.Data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}

			for _, w := range result.Warnings {
				fmt.Fprintf(os.Stderr, "warning: %v\n", w)
			}
			fmt.Fprintf(os.Stdout, "wrote %s (%d warnings)\n", out, len(result.Warnings))
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Comment text")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (default: workbook.output_filename)")
	return cmd
}

func validateCmd() *cobra.Command {
	var original string
	var pretty bool

	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Compare a produced workbook's styles with the original's",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			produced, err := readWorkbook(args[0])
			if err != nil {
				return err
			}
			orig, err := readWorkbook(original)
			if err != nil {
				return err
			}

			summary, err := svc.Validate(cmd.Context(), produced, orig)
			if err != nil {
				return err
			}
			if err := printJSON(summary, pretty); err != nil {
				return err
			}
			if !summary.IsValid {
				return fmt.Errorf("%d of %d cells differ from the original", summary.InvalidCells, summary.TotalCells)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&original, "original", "", "The workbook before modification")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Pretty-print JSON output")
	_ = cmd.MarkFlagRequired("original")
	return cmd
}

func templateCmd() *cobra.Command {
	var text, out, structure string

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Build a blank TORG-12 header workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, filename, err := buildTemplate(cmd.Context(), text, structure)
			if err != nil {
				return err
			}
			if out == "" {
				out = filename
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(os.Stdout, "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Text for the placeholder cell")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (default: workbook.template_filename)")
	cmd.Flags().StringVar(&structure, "structure", "", "YAML template structure (default: built-in TORG-12 header)")
	return cmd
}

func buildTemplate(ctx context.Context, text, structure string) ([]byte, string, error) {
	if structure == "" {
		svc, err := newService()
		if err != nil {
			return nil, "", err
		}
		return svc.Template(ctx, text)
	}

	s, err := formtemplate.LoadFile(structure)
	if err != nil {
		return nil, "", err
	}
	gen, err := formtemplate.NewGenerator(s, nil)
	if err != nil {
		return nil, "", err
	}
	data, err := gen.Generate(ctx, text)
	return data, formtemplate.DefaultFilename, err
}
