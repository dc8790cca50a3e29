// Package main provides the reportflow CLI, a thin client for the
// ReportFlow daemon plus local LLM profile management.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"ReportFlow/internal/profile"
	"ReportFlow/sdk/go/reportflow"
)

func main() {
	app := &cli.App{
		Name:  "reportflow",
		Usage: "Queue and inspect AI report generation jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Base URL of the reportflowd API",
				Value:   "http://127.0.0.1:8080",
				EnvVars: []string{"REPORTFLOW_SERVER"},
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			jobsCommand(),
			pipelinesCommand(),
			profileCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(c *cli.Context) (*reportflow.Client, error) {
	return reportflow.NewClient(c.String("server"), nil)
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Submit a report job and optionally wait for the artifact",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pipeline", Usage: "Pipeline ID", Required: true},
			&cli.StringFlag{Name: "type", Usage: "Report type declared by the pipeline", Required: true},
			&cli.StringFlag{Name: "format", Usage: "Output format: html, pdf, pptx, mdx", Value: "html"},
			&cli.StringSliceFlag{Name: "input", Usage: "Pipeline input as key=value (repeatable)"},
			&cli.StringFlag{Name: "name", Usage: "Base name for the artifact file"},
			&cli.StringFlag{Name: "title", Usage: "Report title"},
			&cli.StringFlag{Name: "author", Usage: "Report author"},
			&cli.IntFlag{Name: "priority", Usage: "Queue priority, lower runs first"},
			&cli.BoolFlag{Name: "wait", Usage: "Block until the job reaches a terminal state"},
		},
		Action: func(c *cli.Context) error {
			client, err := newClient(c)
			if err != nil {
				return err
			}
			inputs, err := parseInputs(c.StringSlice("input"))
			if err != nil {
				return err
			}
			job, err := client.EnqueueJob(c.Context, reportflow.JobSubmission{
				PipelineID:   c.String("pipeline"),
				ReportType:   c.String("type"),
				OutputFormat: c.String("format"),
				Inputs:       inputs,
				ReportName:   c.String("name"),
				Title:        c.String("title"),
				Author:       c.String("author"),
				Priority:     c.Int("priority"),
			})
			if err != nil {
				return err
			}
			if !c.Bool("wait") {
				return printJSON(job)
			}
			done, err := client.WaitForJob(c.Context, job.ID, time.Second)
			if err != nil {
				return err
			}
			if err := printJSON(done); err != nil {
				return err
			}
			if done.Status == "failed" {
				return cli.Exit(fmt.Sprintf("job failed: %s", done.FailureReason), 1)
			}
			return nil
		},
	}
}

func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", pair)
		}
		// Numbers and booleans keep their type so pipelines can validate them.
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			inputs[key] = parsed
		} else if parsed, err := strconv.ParseBool(value); err == nil {
			inputs[key] = parsed
		} else {
			inputs[key] = value
		}
	}
	return inputs, nil
}

func jobsCommand() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Inspect and manage queued jobs",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List jobs, optionally filtered by status",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "status", Usage: "Filter by status (repeatable)"},
				},
				Action: func(c *cli.Context) error {
					client, err := newClient(c)
					if err != nil {
						return err
					}
					jobs, err := client.ListJobs(c.Context, c.StringSlice("status")...)
					if err != nil {
						return err
					}
					return printJSON(jobs)
				},
			},
			{
				Name:      "get",
				Usage:     "Show a single job",
				ArgsUsage: "<job-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("expected exactly one job id", 1)
					}
					client, err := newClient(c)
					if err != nil {
						return err
					}
					job, err := client.GetJob(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					return printJSON(job)
				},
			},
			{
				Name:  "stats",
				Usage: "Show queue statistics",
				Action: func(c *cli.Context) error {
					client, err := newClient(c)
					if err != nil {
						return err
					}
					stats, err := client.Stats(c.Context)
					if err != nil {
						return err
					}
					return printJSON(stats)
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove a job that is not running",
				ArgsUsage: "<job-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("expected exactly one job id", 1)
					}
					client, err := newClient(c)
					if err != nil {
						return err
					}
					return client.RemoveJob(c.Context, c.Args().First())
				},
			},
			{
				Name:  "pause",
				Usage: "Pause job scheduling",
				Action: func(c *cli.Context) error {
					client, err := newClient(c)
					if err != nil {
						return err
					}
					return client.Pause(c.Context)
				},
			},
			{
				Name:  "resume",
				Usage: "Resume job scheduling",
				Action: func(c *cli.Context) error {
					client, err := newClient(c)
					if err != nil {
						return err
					}
					return client.Resume(c.Context)
				},
			},
		},
	}
}

func pipelinesCommand() *cli.Command {
	return &cli.Command{
		Name:  "pipelines",
		Usage: "List pipelines registered on the daemon",
		Action: func(c *cli.Context) error {
			client, err := newClient(c)
			if err != nil {
				return err
			}
			infos, err := client.ListPipelines(c.Context)
			if err != nil {
				return err
			}
			return printJSON(infos)
		},
	}
}

func profileCommand() *cli.Command {
	dirFlag := &cli.StringFlag{
		Name:    "dir",
		Usage:   "Directory holding LLM profiles",
		Value:   "profiles",
		EnvVars: []string{"REPORTFLOW_PROFILES_DIR"},
	}
	return &cli.Command{
		Name:  "profile",
		Usage: "Manage local LLM provider profiles",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create or overwrite a profile",
				Flags: []cli.Flag{
					dirFlag,
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "provider", Usage: "openai, gemini or deepseek", Required: true},
					&cli.StringFlag{Name: "model"},
					&cli.StringFlag{Name: "api-key"},
					&cli.StringFlag{Name: "base-url"},
					&cli.Float64Flag{Name: "temperature", Value: 0.2},
					&cli.IntFlag{Name: "max-tokens"},
				},
				Action: func(c *cli.Context) error {
					manager := profile.NewManager(c.String("dir"))
					return manager.Save(&profile.Profile{
						Name:        c.String("name"),
						Provider:    c.String("provider"),
						Model:       c.String("model"),
						APIKey:      c.String("api-key"),
						BaseURL:     c.String("base-url"),
						Temperature: c.Float64("temperature"),
						MaxTokens:   c.Int("max-tokens"),
					})
				},
			},
			{
				Name:  "list",
				Usage: "List stored profiles",
				Flags: []cli.Flag{dirFlag},
				Action: func(c *cli.Context) error {
					manager := profile.NewManager(c.String("dir"))
					profiles, err := manager.List()
					if err != nil {
						return err
					}
					for i := range profiles {
						// Keys never leave the local profile store.
						profiles[i].APIKey = ""
					}
					return printJSON(profiles)
				},
			},
			{
				Name:      "use",
				Usage:     "Mark a profile as default",
				ArgsUsage: "<name>",
				Flags:     []cli.Flag{dirFlag},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("expected exactly one profile name", 1)
					}
					manager := profile.NewManager(c.String("dir"))
					return manager.Use(c.Args().First())
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a profile",
				ArgsUsage: "<name>",
				Flags:     []cli.Flag{dirFlag},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("expected exactly one profile name", 1)
					}
					manager := profile.NewManager(c.String("dir"))
					return manager.Delete(c.Args().First())
				},
			},
		},
	}
}
