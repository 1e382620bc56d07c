package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/soochol/procflow/internal/config"
	"github.com/soochol/procflow/internal/persist"
	"github.com/soochol/procflow/internal/processors"
	"github.com/soochol/procflow/internal/repository"
	"github.com/soochol/procflow/internal/sequence"
	"github.com/soochol/procflow/internal/services"
	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute a sequence document once and print the run",
		ArgsUsage: "<file> [inputs...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output format (json, yaml)",
				Value:   "json",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("PROCFLOW_LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			args := command.Args()
			if args.Len() < 1 {
				return fmt.Errorf("run: missing sequence document path")
			}
			logger := config.NewLogger(config.LogConfig{Level: command.String("log-level")}, os.Stderr)
			svc := services.NewSequenceService(
				repository.NewMemorySequenceRepository(),
				&persist.Restorer{
					Registry: processors.DefaultRegistry(),
					Logger:   logger,
					Options:  []sequence.Option{sequence.WithLogger(logger)},
				},
				services.NewRunHistoryService(repository.NewMemoryRunRepository()),
				nil,
			)
			defer svc.Close()
			return runOnce(ctx, svc, args.First(), parseInputs(args.Tail()), command.String("output"), os.Stdout)
		},
	}
}

type runOutput struct {
	Run     *persist.RunRecord         `json:"run"`
	Results []services.ProcessorResult `json:"results"`
}

func runOnce(ctx context.Context, svc *services.SequenceService, path string, inputs []any, format string, w io.Writer) error {
	seq, err := svc.LoadFile(ctx, path)
	if err != nil {
		return err
	}
	record, runErr := svc.Execute(ctx, seq.Name(), inputs, persist.TriggerManual)
	if record == nil {
		return runErr
	}
	results, err := svc.Results(seq.Name())
	if err != nil {
		return err
	}
	if err := writeOutput(w, format, runOutput{Run: record, Results: results}); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if record.Outcome == sequence.Fail {
		return fmt.Errorf("sequence %q: outcome %s: %s", seq.Name(), record.Outcome, record.Message)
	}
	return nil
}

// parseInputs reads numbers and booleans; anything else stays a string.
func parseInputs(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if f, err := strconv.ParseFloat(a, 64); err == nil {
			out[i] = f
		} else if b, err := strconv.ParseBool(a); err == nil {
			out[i] = b
		} else {
			out[i] = a
		}
	}
	return out
}

func writeOutput(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	switch format {
	case "json", "":
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		// Values only know how to marshal themselves as JSON.
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
