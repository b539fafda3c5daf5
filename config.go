// Run configuration: flag values merged over an optional YAML file.
// The resulting config struct is built once in main and passed to every
// component; nothing mutates it afterwards.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// sectionURLs maps the scrapeable section names to their index URLs.
var sectionURLs = map[string]string{
	"wire":        "https://mises.org/wire",
	"powermarket": "https://mises.org/power-market",
}

type config struct {
	Sections    []string // section names from sectionURLs
	SingleURL   string
	InputFile   string
	MaxPages    int
	MaxArticles int
	Stability   int

	StartDate *time.Time
	EndDate   *time.Time

	SaveDir    string
	Title      string
	Split      int
	CoverPath  string
	SkipImages bool
	Markdown   bool

	Threads  int
	Timeout  time.Duration
	Delay    time.Duration
	Retries  int
	Proxy    string
	Insecure bool

	UseCache   bool
	CacheDir   string
	ClearCache bool
}

// fileConfig mirrors the YAML config file layout. Every field is optional;
// flag values take precedence over file values.
type fileConfig struct {
	SaveDir  string  `yaml:"save_dir"`
	CacheDir string  `yaml:"cache_dir"`
	Proxy    string  `yaml:"proxy"`
	Threads  int     `yaml:"threads"`
	Timeout  string  `yaml:"timeout"`
	Delay    string  `yaml:"delay"`
	Retries  int     `yaml:"retries"`
	Cover    string  `yaml:"cover"`
}

// loadFileConfig reads a YAML config file. A missing file is not an error;
// a file that exists but cannot be parsed is.
func loadFileConfig(path string) (*fileConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &fc, nil
}

// applyFileConfig fills config fields still at their zero/default values
// from the file config.
func (c *config) applyFileConfig(fc *fileConfig, defaults config) error {
	if fc == nil {
		return nil
	}
	if c.SaveDir == defaults.SaveDir && fc.SaveDir != "" {
		c.SaveDir = fc.SaveDir
	}
	if c.CacheDir == defaults.CacheDir && fc.CacheDir != "" {
		c.CacheDir = fc.CacheDir
	}
	if c.Proxy == "" {
		c.Proxy = fc.Proxy
	}
	if c.Threads == defaults.Threads && fc.Threads > 0 {
		c.Threads = fc.Threads
	}
	if c.Retries == defaults.Retries && fc.Retries > 0 {
		c.Retries = fc.Retries
	}
	if c.CoverPath == "" {
		c.CoverPath = fc.Cover
	}
	if fc.Timeout != "" && c.Timeout == defaults.Timeout {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return fmt.Errorf("config file timeout: %w", err)
		}
		c.Timeout = d
	}
	if fc.Delay != "" && c.Delay == defaults.Delay {
		d, err := time.ParseDuration(fc.Delay)
		if err != nil {
			return fmt.Errorf("config file delay: %w", err)
		}
		c.Delay = d
	}
	return nil
}

// parseSections splits a "wire+powermarket" style include string and
// validates every name against sectionURLs.
func parseSections(include string) ([]string, error) {
	var sections []string
	for _, s := range strings.Split(include, "+") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := sectionURLs[s]; !ok {
			return nil, fmt.Errorf("unknown section %q (available: %s)", s, strings.Join(sectionNames(), ", "))
		}
		sections = append(sections, s)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no sections specified")
	}
	return sections, nil
}

func sectionNames() []string {
	names := make([]string, 0, len(sectionURLs))
	for name := range sectionURLs {
		names = append(names, name)
	}
	return names
}

// parseDateArg parses a YYYY-MM-DD flag value as midnight UTC.
func parseDateArg(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	t = t.UTC()
	return &t, nil
}

// validate checks the config for errors that must stop the run before any
// network work starts.
func (c *config) validate() error {
	if c.SingleURL != "" && !isValidURL(c.SingleURL) {
		return fmt.Errorf("invalid article URL: %s", c.SingleURL)
	}
	if c.Split < 0 {
		return fmt.Errorf("split count must be positive, got %d", c.Split)
	}
	if c.Threads < 1 {
		return fmt.Errorf("thread count must be at least 1, got %d", c.Threads)
	}
	if c.Stability < 1 {
		return fmt.Errorf("stability window must be at least 1, got %d", c.Stability)
	}
	if c.StartDate != nil && c.EndDate != nil && c.EndDate.Before(*c.StartDate) {
		return fmt.Errorf("end date %s precedes start date %s",
			c.EndDate.Format("2006-01-02"), c.StartDate.Format("2006-01-02"))
	}
	if c.CoverPath != "" {
		if _, err := os.Stat(c.CoverPath); err != nil {
			return fmt.Errorf("cover image: %w", err)
		}
	}
	if err := os.MkdirAll(c.SaveDir, 0755); err != nil {
		return fmt.Errorf("creating save directory: %w", err)
	}
	return nil
}

// sectionIndexURLs returns the index URLs for the configured sections.
func (c *config) sectionIndexURLs() []string {
	urls := make([]string, 0, len(c.Sections))
	for _, name := range c.Sections {
		urls = append(urls, sectionURLs[name])
	}
	return urls
}
