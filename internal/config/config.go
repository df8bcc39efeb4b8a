/*
Package config loads douclip's YAML configuration, applies defaults and
environment overrides, and validates the result.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shanehull/douclip/internal/ai"
	"github.com/shanehull/douclip/internal/filter"
	"github.com/shanehull/douclip/internal/inlabs"
	"github.com/shanehull/douclip/internal/notify"
	"github.com/shanehull/douclip/internal/pipeline"
	"github.com/shanehull/douclip/internal/planner"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const DefaultSQLitePath = "data/douclip.db"

type Config struct {
	INLABS      INLABSConfig        `yaml:"inlabs"`
	Window      WindowConfig        `yaml:"window"`
	SnippetSize int                 `yaml:"snippet_size"`
	Filters     []filter.Descriptor `yaml:"filters"`
	Storage     StorageConfig       `yaml:"storage"`
	Mail        MailConfig          `yaml:"mail"`
	Notify      NotifyConfig        `yaml:"notify"`
	AI          AIConfig            `yaml:"ai"`
	Log         LogConfig           `yaml:"log"`

	filters []filter.Filter
	always  notify.AlwaysWindow
}

type INLABSConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Email       string        `yaml:"email"`
	Password    string        `yaml:"password"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	MaxBytes    int64         `yaml:"max_bytes"`
	Sections    []string      `yaml:"sections"`
}

type WindowConfig struct {
	LookbackDays *int `yaml:"lookback_days"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MailConfig struct {
	Enabled       bool     `yaml:"enabled"`
	SMTPHost      string   `yaml:"smtp_host"`
	SMTPPort      int      `yaml:"smtp_port"`
	SMTPUser      string   `yaml:"smtp_user"`
	SMTPPass      string   `yaml:"smtp_pass"`
	FromEmail     string   `yaml:"from_email"`
	ToEmails      []string `yaml:"to_emails"`
	SubjectPrefix string   `yaml:"subject_prefix"`
}

type NotifyConfig struct {
	Weekday   string `yaml:"weekday"`
	StartHour *int   `yaml:"start_hour"`
	EndHour   *int   `yaml:"end_hour"`
	Timezone  string `yaml:"timezone"`
}

type AIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads the file at path. A missing file is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes, defaults, overrides from the environment and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv(os.Getenv)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.INLABS.BaseURL == "" {
		c.INLABS.BaseURL = inlabs.DefaultBaseURL
	}
	if c.INLABS.Timeout == 0 {
		c.INLABS.Timeout = inlabs.DefaultTimeout
	}
	if c.INLABS.Concurrency == 0 {
		c.INLABS.Concurrency = pipeline.DefaultConcurrency
	}
	if c.INLABS.MaxBytes == 0 {
		c.INLABS.MaxBytes = inlabs.DefaultMaxBytes
	}

	if c.Window.LookbackDays == nil {
		n := planner.DefaultLookbackDays
		c.Window.LookbackDays = &n
	}
	if c.SnippetSize == 0 {
		c.SnippetSize = filter.DefaultSnippetSize
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = DefaultSQLitePath
	}

	if c.Mail.SMTPPort == 0 {
		c.Mail.SMTPPort = 587
	}
	if c.Mail.SubjectPrefix == "" {
		c.Mail.SubjectPrefix = notify.DefaultSubjectPrefix
	}

	def := notify.DefaultAlwaysWindow()
	if c.Notify.Weekday == "" {
		c.Notify.Weekday = strings.ToLower(def.Weekday.String())
	}
	if c.Notify.StartHour == nil {
		c.Notify.StartHour = &def.StartHour
	}
	if c.Notify.EndHour == nil {
		c.Notify.EndHour = &def.EndHour
	}
	if c.Notify.Timezone == "" {
		c.Notify.Timezone = notify.DefaultTimezone
	}

	if c.AI.Model == "" {
		c.AI.Model = ai.DefaultModel
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// applyEnv lets secrets and the database path come from the environment.
func (c *Config) applyEnv(getenv func(string) string) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"INLABS_EMAIL", &c.INLABS.Email},
		{"INLABS_PASSWORD", &c.INLABS.Password},
		{"SMTP_USER", &c.Mail.SMTPUser},
		{"SMTP_PASS", &c.Mail.SMTPPass},
		{"GEMINI_API_KEY", &c.AI.APIKey},
		{"DOUCLIP_SQLITE_PATH", &c.Storage.SQLitePath},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(getenv(o.key)); v != "" {
			*o.dst = v
		}
	}

	if c.Mail.FromEmail == "" {
		c.Mail.FromEmail = c.Mail.SMTPUser
	}
}

func (c *Config) validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.INLABS.Timeout < 0 {
		invalid("inlabs.timeout must be positive")
	}
	if c.INLABS.Concurrency < 0 {
		invalid("inlabs.concurrency must be positive")
	}
	if c.INLABS.MaxBytes < 0 {
		invalid("inlabs.max_bytes must be positive")
	}
	if *c.Window.LookbackDays < 0 {
		invalid("window.lookback_days must not be negative")
	}
	if c.SnippetSize < 0 {
		invalid("snippet_size must be positive")
	}

	filters, err := filter.Compile(c.Filters)
	if err != nil {
		errs = append(errs, err)
	}
	c.filters = filters
	c.INLABS.Sections = fetchedSections(c.INLABS.Sections, filters)

	if c.Mail.Enabled {
		if c.Mail.SMTPHost == "" {
			invalid("mail.smtp_host is required when mail is enabled")
		}
		if len(c.Mail.ToEmails) == 0 {
			invalid("mail.to_emails is required when mail is enabled")
		}
		if c.Mail.FromEmail == "" {
			invalid("mail.from_email or smtp_user is required when mail is enabled")
		}
	}

	window, err := c.alwaysWindow()
	if err != nil {
		errs = append(errs, err)
	}
	c.always = window

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// fetchedSections is the configured sections plus every section a filter
// names, so no filter is bound to a section that is never downloaded. When no
// sections are configured and a filter names none, DO1 is fetched for it.
func fetchedSections(configured []string, filters []filter.Filter) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(s string) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, s := range configured {
		add(s)
	}
	if len(out) == 0 {
		for _, f := range filters {
			if f.Section == "" {
				add(pipeline.DefaultSection)
				break
			}
		}
	}
	for _, s := range filter.Sections(filters) {
		add(s)
	}
	if len(out) == 0 {
		add(pipeline.DefaultSection)
	}
	return out
}

func (c *Config) alwaysWindow() (notify.AlwaysWindow, error) {
	weekday, ok := parseWeekday(c.Notify.Weekday)
	if !ok {
		return notify.AlwaysWindow{}, fmt.Errorf("notify.weekday %q is not a weekday", c.Notify.Weekday)
	}
	start, end := *c.Notify.StartHour, *c.Notify.EndHour
	if start < 0 || end > 24 || start >= end {
		return notify.AlwaysWindow{}, fmt.Errorf("notify hours must satisfy 0 <= start_hour < end_hour <= 24, got %d..%d", start, end)
	}

	var loc *time.Location
	if c.Notify.Timezone == notify.DefaultTimezone {
		loc = notify.DefaultAlwaysWindow().Location
	} else {
		l, err := time.LoadLocation(c.Notify.Timezone)
		if err != nil {
			return notify.AlwaysWindow{}, fmt.Errorf("notify.timezone %q: %w", c.Notify.Timezone, err)
		}
		loc = l
	}

	return notify.AlwaysWindow{Weekday: weekday, StartHour: start, EndHour: end, Location: loc}, nil
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}

// RequireCredentials reports missing INLABS credentials. Only commands that
// talk to the portal need them.
func (c *Config) RequireCredentials() error {
	if c.INLABS.Email == "" || c.INLABS.Password == "" {
		return fmt.Errorf("%w: inlabs.email and inlabs.password (or INLABS_EMAIL/INLABS_PASSWORD) are required", ErrInvalid)
	}
	return nil
}

// CompiledFilters returns the validated filters.
func (c *Config) CompiledFilters() []filter.Filter { return c.filters }

// AlwaysWindow returns the validated always-notify window.
func (c *Config) AlwaysWindow() notify.AlwaysWindow { return c.always }

func (c *Config) LookbackDays() int { return *c.Window.LookbackDays }

func (c *Config) INLABSClientConfig() inlabs.Config {
	return inlabs.Config{
		BaseURL:  c.INLABS.BaseURL,
		Email:    c.INLABS.Email,
		Password: c.INLABS.Password,
		Timeout:  c.INLABS.Timeout,
		MaxBytes: c.INLABS.MaxBytes,
	}
}

func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Sections:     c.INLABS.Sections,
		Concurrency:  c.INLABS.Concurrency,
		LookbackDays: c.LookbackDays(),
	}
}

func (c *Config) EmailConfig() notify.EmailConfig {
	return notify.EmailConfig{
		SMTPServer: c.Mail.SMTPHost,
		SMTPPort:   c.Mail.SMTPPort,
		SMTPUser:   c.Mail.SMTPUser,
		SMTPPass:   c.Mail.SMTPPass,
		FromEmail:  c.Mail.FromEmail,
		ToEmails:   c.Mail.ToEmails,
		Enabled:    c.Mail.Enabled,
	}
}
