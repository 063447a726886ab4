package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rancher/backport/internal/app"
	"github.com/rancher/backport/internal/ui"
)

type rootOptions struct {
	configPath  string
	repoDir     string
	pullNumbers []int
	shas        []string
	branches    []string
	eventPath   string
	dryRun      bool
	fork        bool
	username    string
	logLevel    string
	logFormat   string
	logFile     string
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&rootOptions{})
}

func newRootCmdWith(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backport",
		Short: "Backport merged commits to release branches",
		Long: `Cherry-pick merged pull requests or commits onto target branches and open a
backport pull request for each branch.

Target branches come from --branch, the config file, or the source pull request labels.
Conflicts are resolved interactively when running in a terminal.

Example:
  backport --pr 1234 --branch release/v2.9
  backport --sha 4f2c9e1 -b 7.x -b 6.8 --dry-run`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd)
		},
	}

	flags := cmd.Flags()
	flags.IntSliceVar(&opts.pullNumbers, "pr", nil, "source pull request number (repeatable)")
	flags.StringSliceVar(&opts.shas, "sha", nil, "source commit sha (repeatable)")
	flags.StringSliceVarP(&opts.branches, "branch", "b", nil, "target branch (repeatable)")
	flags.StringVar(&opts.eventPath, "event-path", "", "GitHub pull_request event payload (defaults to $GITHUB_EVENT_PATH)")
	flags.StringVar(&opts.configPath, "config", "", "config file (defaults to .backportrc.json or .backportrc.yml in the repository)")
	flags.StringVar(&opts.repoDir, "repo-dir", "", "repository working tree")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "log git and GitHub writes instead of performing them")
	flags.BoolVar(&opts.fork, "fork", false, "push backport branches to the fork named after --username")
	flags.StringVar(&opts.username, "username", "", "GitHub username owning the fork")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&opts.logFile, "log-file", "", "also write JSON logs to this rotating file")
	cmd.MarkFlagsMutuallyExclusive("pr", "sha")

	return cmd
}

// overrides maps flags onto config overrides; booleans only apply when set explicitly.
func (o *rootOptions) overrides(cmd *cobra.Command) app.Overrides {
	ov := app.Overrides{
		ConfigPath:  o.configPath,
		RepoDir:     o.repoDir,
		PullNumbers: o.pullNumbers,
		SHAs:        o.shas,
		Branches:    o.branches,
		EventPath:   o.eventPath,
		Username:    o.username,
		LogLevel:    o.logLevel,
		LogFormat:   o.logFormat,
		LogFile:     o.logFile,
	}
	if cmd.Flags().Changed("dry-run") {
		ov.DryRun = &o.dryRun
	}
	if cmd.Flags().Changed("fork") {
		ov.Fork = &o.fork
	}
	return ov
}

func (o *rootOptions) run(cmd *cobra.Command) error {
	cfg, err := app.LoadConfig(o.overrides(cmd))
	if err != nil {
		return err
	}

	logger, closer, err := app.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closer.Close()

	out := cmd.OutOrStdout()
	interactive := ui.IsTTY()
	runnerOpts := []app.Option{app.WithProgress(ui.NewProgress(out, interactive))}
	if interactive {
		runnerOpts = append(runnerOpts, app.WithPrompter(ui.NewPrompter()))
	}

	_, err = app.NewRunner(cfg, logger, out, runnerOpts...).Run(cmd.Context())
	return err
}
