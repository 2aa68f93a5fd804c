package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/Epistemic-Technology/batiment-compare/internal/config"
	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/internal/operations"
	"github.com/Epistemic-Technology/batiment-compare/internal/storage"
	"github.com/Epistemic-Technology/batiment-compare/models"
	"github.com/Epistemic-Technology/batiment-compare/server"
)

var pairFlags = []cli.Flag{
	&cli.StringFlag{Name: "reference", Aliases: []string{"r"}, Required: true, Usage: "reference PDF: path, URL or zotero:<attachment key>"},
	&cli.StringFlag{Name: "final", Aliases: []string{"f"}, Required: true, Usage: "final PDF: path, URL or zotero:<attachment key>"},
	&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write the annotated final PDF here"},
	&cli.BoolFlag{Name: "annotate", Aliases: []string{"a"}, Usage: "write the annotated final PDF next to the final PDF"},
}

func withPairFlags(extra ...cli.Flag) []cli.Flag {
	return append(append([]cli.Flag{}, pairFlags...), extra...)
}

// parseSource maps a command-line argument onto a document source.
func parseSource(arg string) models.SourceInfo {
	switch {
	case strings.HasPrefix(arg, "zotero:"):
		return models.SourceInfo{ZoteroID: strings.TrimPrefix(arg, "zotero:")}
	case strings.HasPrefix(arg, "http://"), strings.HasPrefix(arg, "https://"):
		return models.SourceInfo{URL: arg}
	default:
		return models.SourceInfo{Path: arg}
	}
}

// outputPath is where the annotated PDF goes: --out, or <final>-annotated.pdf
// beside a local final PDF.
func outputPath(out, final string, annotate bool) (string, error) {
	if out != "" {
		return out, nil
	}
	if !annotate {
		return "", nil
	}
	src := parseSource(final)
	if src.Path == "" {
		return "", errors.New("--annotate needs a local final PDF; use --out for remote sources")
	}
	ext := filepath.Ext(src.Path)
	return strings.TrimSuffix(src.Path, ext) + "-annotated.pdf", nil
}

type runEnv struct {
	cfg   config.Config
	log   logger.Logger
	store storage.Store
}

func (e *runEnv) Close() {
	if e.store != nil {
		e.store.Close()
	}
}

func (e *runEnv) service() *operations.Service {
	return operations.New(e.cfg, e.store, server.NewJudge(e.cfg, e.log), e.log)
}

func newRunEnv(c *cli.Context, needStore bool) (*runEnv, error) {
	cfg, log, err := setup(c)
	if err != nil {
		return nil, err
	}
	env := &runEnv{cfg: cfg, log: log}
	if needStore && !c.Bool("no-store") {
		dbPath, err := cfg.ResolveDBPath()
		if err != nil {
			return nil, err
		}
		store, err := storage.NewSQLiteStore(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open run database: %w", err)
		}
		env.store = store
	}
	return env, nil
}

func pairRequest(c *cli.Context) (operations.Request, string, error) {
	out, err := outputPath(c.String("out"), c.String("final"), c.Bool("annotate"))
	if err != nil {
		return operations.Request{}, "", err
	}
	return operations.Request{
		Reference: parseSource(c.String("reference")),
		Final:     parseSource(c.String("final")),
		Annotate:  out != "",
	}, out, nil
}

func writeReport(w io.Writer, report any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func writeAnnotated(log logger.Logger, path string, data []byte) error {
	if path == "" || len(data) == 0 {
		return nil
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write annotated PDF: %w", err)
	}
	log.Info("Annotated PDF written to %s", path)
	return nil
}

func geometryCommand() *cli.Command {
	return &cli.Command{
		Name:    "geometry",
		Aliases: []string{"g"},
		Usage:   "compare page sizes and main image boxes",
		Flags: withPairFlags(
			&cli.Float64Flag{Name: "tolerance", Usage: "absolute tolerance in points (default from config, 1.0)"},
		),
		Action: func(c *cli.Context) error {
			env, err := newRunEnv(c, true)
			if err != nil {
				return err
			}
			defer env.Close()
			if c.IsSet("tolerance") {
				env.cfg.Tolerance = c.Float64("tolerance")
			}
			req, out, err := pairRequest(c)
			if err != nil {
				return err
			}

			report, annotated, err := env.service().CompareGeometry(c.Context, req)
			if err != nil {
				return err
			}
			if err := writeAnnotated(env.log, out, annotated); err != nil {
				return err
			}
			return writeReport(c.App.Writer, report)
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:    "verify",
		Aliases: []string{"v"},
		Usage:   "check that each reference comment was carried out in the final set",
		Flags: withPairFlags(
			&cli.BoolFlag{Name: "dry-run", Usage: "estimate judge calls and tokens without calling the model"},
			&cli.IntFlag{Name: "concurrency", Usage: "judge calls in flight (default from config, 1)"},
		),
		Action: func(c *cli.Context) error {
			env, err := newRunEnv(c, true)
			if err != nil {
				return err
			}
			defer env.Close()
			if c.Bool("dry-run") {
				env.cfg.CostEstimateOnly = true
			}
			if c.IsSet("concurrency") {
				env.cfg.Concurrency = c.Int("concurrency")
			}
			req, out, err := pairRequest(c)
			if err != nil {
				return err
			}

			report, annotated, err := env.service().VerifyCorrections(c.Context, req)
			if err != nil {
				if report != nil {
					// Interrupted: print the verdicts obtained so far.
					_ = writeReport(c.App.Writer, report)
				}
				return err
			}
			if err := writeAnnotated(env.log, out, annotated); err != nil {
				return err
			}
			return writeReport(c.App.Writer, report)
		},
	}
}

func diffCommand() *cli.Command {
	return &cli.Command{
		Name:    "diff",
		Aliases: []string{"d"},
		Usage:   "word diff of the page text, grouped into annotations",
		Flags: withPairFlags(
			&cli.BoolFlag{Name: "case-insensitive", Aliases: []string{"i"}},
			&cli.BoolFlag{Name: "ignore-quotes", Usage: "treat curly and straight quotes alike"},
			&cli.IntFlag{Name: "max-tokens", Usage: "per-page token count above which lines are compared instead of words"},
			&cli.StringFlag{Name: "reference-out", Usage: "annotated reference PDF path (default <reference>-annotated.pdf)"},
		),
		Action: func(c *cli.Context) error {
			env, err := newRunEnv(c, true)
			if err != nil {
				return err
			}
			defer env.Close()
			env.cfg.CaseInsensitive = env.cfg.CaseInsensitive || c.Bool("case-insensitive")
			env.cfg.IgnoreQuotes = env.cfg.IgnoreQuotes || c.Bool("ignore-quotes")
			if c.IsSet("max-tokens") {
				env.cfg.MaxTokens = c.Int("max-tokens")
			}
			req, out, err := pairRequest(c)
			if err != nil {
				return err
			}

			report, annotated, reference, err := env.service().CompareText(c.Context, req)
			if err != nil {
				return err
			}
			if err := writeAnnotated(env.log, out, annotated); err != nil {
				return err
			}
			if len(reference) > 0 {
				refOut, err := outputPath(c.String("reference-out"), c.String("reference"), true)
				if err != nil {
					env.log.Warn("Annotated reference PDF not written: %v", err)
				} else if err := writeAnnotated(env.log, refOut, reference); err != nil {
					return err
				}
			}
			return writeReport(c.App.Writer, report)
		},
	}
}

func annotationsCommand() *cli.Command {
	return &cli.Command{
		Name:      "annotations",
		Aliases:   []string{"a"},
		Usage:     "list the comment annotations of a PDF",
		ArgsUsage: "<pdf>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.ShowSubcommandHelp(c)
			}
			env, err := newRunEnv(c, false)
			if err != nil {
				return err
			}
			annotations, err := env.service().ListAnnotations(c.Context, parseSource(c.Args().First()))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPAGE\tAUTHOR\tTEXT")
			for _, a := range annotations {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", a.ID, a.PageIndex+1, a.Author, strings.ReplaceAll(a.Text, "\n", " "))
			}
			return w.Flush()
		},
	}
}

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "inspect recorded comparison runs",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list runs, newest first",
				Action: func(c *cli.Context) error {
					env, err := newRunEnv(c, true)
					if err != nil {
						return err
					}
					defer env.Close()
					if env.store == nil {
						return errors.New("run database disabled by --no-store")
					}
					runs, err := env.store.ListRuns(c.Context)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "RUN\tMODE\tCREATED\tPDF\tSUMMARY")
					for _, r := range runs {
						fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", r.RunID, r.Mode, r.CreatedAt.Format("2006-01-02 15:04"), r.HasPDF, r.Summary)
					}
					return w.Flush()
				},
			},
			{
				Name:      "show",
				Usage:     "print the report of a run",
				ArgsUsage: "<run id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.ShowSubcommandHelp(c)
					}
					env, err := newRunEnv(c, true)
					if err != nil {
						return err
					}
					defer env.Close()
					if env.store == nil {
						return errors.New("run database disabled by --no-store")
					}
					run, err := env.store.GetRun(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					_, err = c.App.Writer.Write(append(run.Report, '\n'))
					return err
				},
			},
			{
				Name:      "pdf",
				Usage:     "extract the annotated PDF of a run",
				ArgsUsage: "<run id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Required: true},
					&cli.BoolFlag{Name: "reference", Usage: "extract the annotated reference PDF of a word diff"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.ShowSubcommandHelp(c)
					}
					env, err := newRunEnv(c, true)
					if err != nil {
						return err
					}
					defer env.Close()
					if env.store == nil {
						return errors.New("run database disabled by --no-store")
					}
					get := env.store.GetRunPDF
					if c.Bool("reference") {
						get = env.store.GetRunReferencePDF
					}
					data, err := get(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					return writeAnnotated(env.log, c.String("out"), data)
				},
			},
			{
				Name:      "delete",
				Usage:     "delete a run",
				ArgsUsage: "<run id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.ShowSubcommandHelp(c)
					}
					env, err := newRunEnv(c, true)
					if err != nil {
						return err
					}
					defer env.Close()
					if env.store == nil {
						return errors.New("run database disabled by --no-store")
					}
					return env.store.DeleteRun(c.Context, c.Args().First())
				},
			},
		},
	}
}
