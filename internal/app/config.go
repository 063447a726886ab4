package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/goccy/go-yaml"

	"github.com/rancher/backport/internal/labels"
)

const (
	defaultLabelPrefix    = "backport-to/"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultUpstreamRemote = "origin"
	envPrefix             = "BACKPORT_"
)

// configFileNames are searched in the repository directory, in order, when no
// config file is given explicitly.
var configFileNames = []string{".backportrc.json", ".backportrc.yml", ".backportrc.yaml"}

// Config captures runtime options merged from defaults, the config file, the
// environment and command line flags.
type Config struct {
	GitHubToken     string
	GitHubBaseURL   string
	GitHubUploadURL string

	RepoDir   string
	RepoOwner string
	RepoName  string

	// Username owns the fork backport branches are pushed to when Fork is set.
	Username       string
	Fork           bool
	UpstreamRemote string
	SourceBranch   string

	PullNumbers []int
	SHAs        []string
	EventPath   string

	TargetBranches     []string
	LabelPrefix        string
	BranchLabelMapping []labels.Mapping

	PRTitle        string
	PRDescription  string
	TargetPRLabels []string
	SourcePRLabels []string
	Assignees      []string
	Mainline       int

	DryRun               bool
	PublishStatusComment bool

	LogLevel  string
	LogFormat string
	LogFile   string

	NetworkRetries int
	NetworkTimeout time.Duration
}

// ForkRemote is the git remote backport branches are pushed to.
func (c Config) ForkRemote() string {
	if c.Fork && c.Username != "" {
		return c.Username
	}
	return c.UpstreamRemote
}

// ForkOwner qualifies the pull request head when pushing to a fork.
func (c Config) ForkOwner() string {
	if c.Fork {
		return c.Username
	}
	return ""
}

// Overrides carries values given on the command line. Zero values leave the lower
// layers untouched.
type Overrides struct {
	ConfigPath  string
	RepoDir     string
	PullNumbers []int
	SHAs        []string
	Branches    []string
	EventPath   string
	DryRun      *bool
	Fork        *bool
	Username    string
	LogLevel    string
	LogFormat   string
	LogFile     string
}

// fileConfig mirrors the .backportrc schema.
type fileConfig struct {
	RepoOwner            string             `json:"repoOwner" yaml:"repoOwner"`
	RepoName             string             `json:"repoName" yaml:"repoName"`
	Username             string             `json:"username" yaml:"username"`
	Fork                 *bool              `json:"fork" yaml:"fork"`
	UpstreamRemote       string             `json:"upstreamRemote" yaml:"upstreamRemote"`
	SourceBranch         string             `json:"sourceBranch" yaml:"sourceBranch"`
	TargetBranches       []string           `json:"targetBranches" yaml:"targetBranches"`
	LabelPrefix          string             `json:"labelPrefix" yaml:"labelPrefix"`
	BranchLabelMapping   branchLabelMapping `json:"branchLabelMapping" yaml:"branchLabelMapping"`
	PRTitle              string             `json:"prTitle" yaml:"prTitle"`
	PRDescription        string             `json:"prDescription" yaml:"prDescription"`
	TargetPRLabels       []string           `json:"targetPRLabels" yaml:"targetPRLabels"`
	SourcePRLabels       []string           `json:"sourcePRLabels" yaml:"sourcePRLabels"`
	Assignees            []string           `json:"assignees" yaml:"assignees"`
	Mainline             *int               `json:"mainline" yaml:"mainline"`
	PublishStatusComment *bool              `json:"publishStatusComment" yaml:"publishStatusComment"`
	GitHubBaseURL        string             `json:"githubBaseURL" yaml:"githubBaseURL"`
	GitHubUploadURL      string             `json:"githubUploadURL" yaml:"githubUploadURL"`
}

// branchLabelMapping keeps the declaration order of the pattern -> branch object,
// which decides precedence between overlapping patterns.
type branchLabelMapping []labels.Mapping

func (m *branchLabelMapping) UnmarshalJSON(data []byte) error {
	return m.decode(data)
}

func (m *branchLabelMapping) UnmarshalYAML(data []byte) error {
	return m.decode(data)
}

// decode relies on JSON objects being valid YAML flow mappings.
func (m *branchLabelMapping) decode(data []byte) error {
	var items yaml.MapSlice
	if err := yaml.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("branchLabelMapping: %w", err)
	}

	mappings := make([]labels.Mapping, 0, len(items))
	for _, item := range items {
		pattern := fmt.Sprint(item.Key)
		branch := ""
		if item.Value != nil {
			s, ok := item.Value.(string)
			if !ok {
				return fmt.Errorf("branchLabelMapping: branch for %q must be a string", pattern)
			}
			branch = s
		}
		mappings = append(mappings, labels.Mapping{Pattern: pattern, Branch: branch})
	}
	*m = mappings
	return nil
}

// LoadConfig layers defaults, the config file, BACKPORT_* environment variables and
// the given overrides, discovers the repository when needed and validates the result.
func LoadConfig(o Overrides) (Config, error) {
	cfg := Config{
		LabelPrefix:          defaultLabelPrefix,
		LogLevel:             defaultLogLevel,
		LogFormat:            defaultLogFormat,
		UpstreamRemote:       defaultUpstreamRemote,
		PublishStatusComment: true,
		RepoDir:              ".",
	}
	if o.RepoDir != "" {
		cfg.RepoDir = o.RepoDir
	} else if dir := strings.TrimSpace(os.Getenv(envPrefix + "REPO_DIR")); dir != "" {
		cfg.RepoDir = dir
	}

	if root, err := repositoryRoot(cfg.RepoDir); err == nil {
		cfg.RepoDir = root
	}

	path, err := findConfigFile(cfg.RepoDir, o.ConfigPath)
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		fc, err := readConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		fc.apply(&cfg)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	o.apply(&cfg)

	if cfg.RepoOwner == "" || cfg.RepoName == "" {
		owner, name, err := discoverRepository(cfg.RepoDir, cfg.UpstreamRemote)
		if err != nil {
			return Config{}, fmt.Errorf("repository owner and name are required (set repoOwner/repoName or run inside a clone): %w", err)
		}
		if cfg.RepoOwner == "" {
			cfg.RepoOwner = owner
		}
		if cfg.RepoName == "" {
			cfg.RepoName = name
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.GitHubToken == "" && !c.DryRun {
		return errors.New("github token is required (set BACKPORT_GITHUB_TOKEN or GITHUB_TOKEN)")
	}

	if (c.GitHubBaseURL == "") != (c.GitHubUploadURL == "") {
		return errors.New("github base URL and upload URL must both be set for GitHub Enterprise")
	}

	supportedFormats := map[string]struct{}{"text": {}, "json": {}}
	if _, ok := supportedFormats[c.LogFormat]; !ok {
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}

	if c.Fork && c.Username == "" {
		return errors.New("a username is required when pushing to a fork")
	}

	if c.Mainline < 0 {
		return fmt.Errorf("mainline must not be negative, got %d", c.Mainline)
	}

	for _, n := range c.PullNumbers {
		if n <= 0 {
			return fmt.Errorf("invalid pull request number %d", n)
		}
	}

	if len(c.TargetBranches) == 0 && c.LabelPrefix == "" && len(c.BranchLabelMapping) == 0 {
		return errors.New("no target branches configured and no label prefix or branch label mapping to derive them from")
	}
	return nil
}

func findConfigFile(dir, explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}
	for _, name := range configFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func readConfigFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func (fc fileConfig) apply(cfg *Config) {
	setString(&cfg.RepoOwner, fc.RepoOwner)
	setString(&cfg.RepoName, fc.RepoName)
	setString(&cfg.Username, fc.Username)
	setString(&cfg.UpstreamRemote, fc.UpstreamRemote)
	setString(&cfg.SourceBranch, fc.SourceBranch)
	setString(&cfg.LabelPrefix, fc.LabelPrefix)
	setString(&cfg.PRTitle, fc.PRTitle)
	setString(&cfg.PRDescription, fc.PRDescription)
	setString(&cfg.GitHubBaseURL, fc.GitHubBaseURL)
	setString(&cfg.GitHubUploadURL, fc.GitHubUploadURL)
	if fc.Fork != nil {
		cfg.Fork = *fc.Fork
	}
	if fc.Mainline != nil {
		cfg.Mainline = *fc.Mainline
	}
	if fc.PublishStatusComment != nil {
		cfg.PublishStatusComment = *fc.PublishStatusComment
	}
	if len(fc.TargetBranches) > 0 {
		cfg.TargetBranches = fc.TargetBranches
	}
	if len(fc.BranchLabelMapping) > 0 {
		cfg.BranchLabelMapping = fc.BranchLabelMapping
	}
	if len(fc.TargetPRLabels) > 0 {
		cfg.TargetPRLabels = fc.TargetPRLabels
	}
	if len(fc.SourcePRLabels) > 0 {
		cfg.SourcePRLabels = fc.SourcePRLabels
	}
	if len(fc.Assignees) > 0 {
		cfg.Assignees = fc.Assignees
	}
}

func applyEnv(cfg *Config) error {
	cfg.GitHubToken = env("GITHUB_TOKEN")
	if cfg.GitHubToken == "" {
		cfg.GitHubToken = strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
	}

	setString(&cfg.GitHubBaseURL, env("GITHUB_BASE_URL"))
	setString(&cfg.GitHubUploadURL, env("GITHUB_UPLOAD_URL"))
	setString(&cfg.RepoOwner, env("REPO_OWNER"))
	setString(&cfg.RepoName, env("REPO_NAME"))
	setString(&cfg.Username, env("USERNAME"))
	setString(&cfg.SourceBranch, env("SOURCE_BRANCH"))
	setString(&cfg.LabelPrefix, env("LABEL_PREFIX"))
	setString(&cfg.LogLevel, strings.ToLower(env("LOG_LEVEL")))
	setString(&cfg.LogFormat, strings.ToLower(env("LOG_FORMAT")))
	setString(&cfg.LogFile, env("LOG_FILE"))

	if cfg.RepoOwner == "" && cfg.RepoName == "" {
		if owner, name, ok := strings.Cut(strings.TrimSpace(os.Getenv("GITHUB_REPOSITORY")), "/"); ok {
			cfg.RepoOwner, cfg.RepoName = owner, name
		}
	}

	if raw := env("TARGET_BRANCHES"); raw != "" {
		cfg.TargetBranches = parseList(raw)
	}
	if raw := env("TARGET_PR_LABELS"); raw != "" {
		cfg.TargetPRLabels = parseList(raw)
	}
	if raw := env("ASSIGNEES"); raw != "" {
		cfg.Assignees = parseList(raw)
	}

	for _, b := range []struct {
		key string
		dst *bool
	}{
		{"DRY_RUN", &cfg.DryRun},
		{"FORK", &cfg.Fork},
		{"PUBLISH_STATUS_COMMENT", &cfg.PublishStatusComment},
	} {
		if raw := env(b.key); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", envPrefix, b.key, err)
			}
			*b.dst = v
		}
	}

	if raw := env("MAINLINE"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parse %sMAINLINE: %w", envPrefix, err)
		}
		cfg.Mainline = v
	}
	if raw := env("NETWORK_RETRIES"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parse %sNETWORK_RETRIES: %w", envPrefix, err)
		}
		cfg.NetworkRetries = v
	}
	if raw := env("NETWORK_TIMEOUT"); raw != "" {
		v, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse %sNETWORK_TIMEOUT: %w", envPrefix, err)
		}
		cfg.NetworkTimeout = v
	}
	return nil
}

func (o Overrides) apply(cfg *Config) {
	if len(o.PullNumbers) > 0 {
		cfg.PullNumbers = o.PullNumbers
	}
	if len(o.SHAs) > 0 {
		cfg.SHAs = o.SHAs
	}
	if len(o.Branches) > 0 {
		cfg.TargetBranches = o.Branches
	}
	if o.DryRun != nil {
		cfg.DryRun = *o.DryRun
	}
	if o.Fork != nil {
		cfg.Fork = *o.Fork
	}
	setString(&cfg.EventPath, o.EventPath)
	setString(&cfg.Username, o.Username)
	setString(&cfg.LogLevel, strings.ToLower(o.LogLevel))
	setString(&cfg.LogFormat, strings.ToLower(o.LogFormat))
	setString(&cfg.LogFile, o.LogFile)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func parseList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})

	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
