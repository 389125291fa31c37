package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Logging     LoggingConfig    `toml:"logging"`
	Storage     StorageConfig    `toml:"storage"`
	Paths       PathsConfig      `toml:"paths"`
	Platform    PlatformConfig   `toml:"platform"`
	Browser     BrowserConfig    `toml:"browser"`
	Session     SessionConfig    `toml:"session"`
	Submission  SubmissionConfig `toml:"submission"`
	Retrieval   RetrievalConfig  `toml:"retrieval"`
	Queue       QueueConfig      `toml:"queue"`
	Intake      IntakeConfig     `toml:"intake"`
	Cooldown    CooldownConfig   `toml:"cooldown"`
	Delivery    DeliveryConfig   `toml:"delivery"`
	Drive       DriveConfig      `toml:"drive"`
	Notify      NotifyConfig     `toml:"notify"`
	Cleanup     CleanupConfig    `toml:"cleanup"`
	Locators    LocatorsConfig   `toml:"locators"`
	Admin       AdminConfig      `toml:"admin"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"oneof=debug info warn error"`
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default: "15:04:05"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path, empty = in-memory stores only
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// PathsConfig holds the scratch directories. Neither is a durable store.
type PathsConfig struct {
	Uploads   string `toml:"uploads" validate:"required"`
	Downloads string `toml:"downloads" validate:"required"`
}

// PlatformConfig describes the remote submission platform
type PlatformConfig struct {
	BaseURL          string   `toml:"base_url" validate:"required,url"`
	LoginURL         string   `toml:"login_url" validate:"required,url"`
	InboxURL         string   `toml:"inbox_url" validate:"required"` // may contain {aid}
	DefaultAID       string   `toml:"default_aid"`
	LoggedInMarkers  []string `toml:"logged_in_markers" validate:"min=1"`
	InboxMarker      string   `toml:"inbox_marker"`
	Email            string   `toml:"email"`
	Password         string   `toml:"password"`
	CredentialsLabel string   `toml:"credentials_label"` // cookie store key suffix
}

type BrowserConfig struct {
	ExecPath       string   `toml:"exec_path"`
	Headless       bool     `toml:"headless"`
	UserAgents     []string `toml:"user_agents"`
	WindowWidth    int      `toml:"window_width"`
	WindowHeight   int      `toml:"window_height"`
	Proxy          string   `toml:"proxy"`           // user:pass@host:port or host:port
	WebshareToken  string   `toml:"webshare_token"`  // optional proxy list API token
	WebshareURL    string   `toml:"webshare_url"`    // proxy list endpoint
	ProxyCountry   string   `toml:"proxy_country"`   // preferred country code
	ProxyTestURL   string   `toml:"proxy_test_url"`  // reachability probe target
	StartupTimeout string   `toml:"startup_timeout"` // e.g. "30s"
}

type SessionConfig struct {
	MaxAge              string   `toml:"max_age"`               // refresh sessions older than this
	ProbeTimeout        string   `toml:"probe_timeout"`         // liveness probe bound
	ChallengeMarkers    []string `toml:"challenge_markers"`     // bot-mitigation interstitial keywords
	ChallengeWait       string   `toml:"challenge_wait"`        // total bound for challenge backoff
	ChallengeInterval   string   `toml:"challenge_interval"`    // first backoff interval
	FieldTimeout        string   `toml:"field_timeout"`         // per-candidate wait on login inputs
	LoginConfirmTimeout string   `toml:"login_confirm_timeout"` // wait for post-login URL markers
	RequiredCookies     []string `toml:"required_cookies"`      // cookie names that make a restore worth trying
	LoginWaitTimeout    string   `toml:"login_wait_timeout"`    // how long uploads wait for an in-flight login
}

// CheckboxRule sets one comparison-source option to a required state
type CheckboxRule struct {
	Name    string `toml:"name" yaml:"name" validate:"required"`
	Value   string `toml:"value" yaml:"value" validate:"required"`
	Checked bool   `toml:"checked" yaml:"checked"`
}

type SubmissionConfig struct {
	AuthorFirst               string         `toml:"author_first"`
	AuthorLast                string         `toml:"author_last"`
	MaxTitleLength            int            `toml:"max_title_length" validate:"min=4"`
	Checkboxes                []CheckboxRule `toml:"checkboxes" validate:"dive"`
	RepositoryValue           string         `toml:"repository_value"`
	LargeFileThreshold        int64          `toml:"large_file_threshold"` // bytes
	ProcessingTimeout         string         `toml:"processing_timeout"`
	ExtendedProcessingTimeout string         `toml:"extended_processing_timeout"`
	ProcessingPollInterval    string         `toml:"processing_poll_interval"`
	ConfirmFallbackTimeout    string         `toml:"confirm_fallback_timeout"`
	ConfirmPollInterval       string         `toml:"confirm_poll_interval"`
	ConfirmEnableTimeout      string         `toml:"confirm_enable_timeout"`
	ReceiptMarkers            []string       `toml:"receipt_markers"`
	ReceiptAttempts           int            `toml:"receipt_attempts"`
	ReceiptInterval           string         `toml:"receipt_interval"`
	StepTimeout               string         `toml:"step_timeout"`   // per-candidate wait on required controls
	OptionTimeout             string         `toml:"option_timeout"` // per-candidate wait on best-effort controls
	SettleDelay               string         `toml:"settle_delay"`   // pause after the receipt before retrieval
}

type RetrievalConfig struct {
	SearchAttempts       int      `toml:"search_attempts" validate:"min=1"`
	SearchDelay          string   `toml:"search_delay"`
	ScoreAttempts        int      `toml:"score_attempts" validate:"min=1"`
	ScoreDelay           string   `toml:"score_delay"`
	SortClickDelay       string   `toml:"sort_click_delay"`
	OpenTimeout          string   `toml:"open_timeout"`
	ReadinessTimeout     string   `toml:"readiness_timeout"`
	ReadinessInterval    string   `toml:"readiness_interval"`
	ReadinessMaxInterval string   `toml:"readiness_max_interval"`
	AISentinels          []string `toml:"ai_sentinels"`
	MenuAttempts         int      `toml:"menu_attempts" validate:"min=1"`
	MenuTimeout          string   `toml:"menu_timeout"`
	DownloadTimeout      string   `toml:"download_timeout"`
}

type QueueConfig struct {
	Capacity        int    `toml:"capacity" validate:"min=1"`
	Workers         int    `toml:"workers" validate:"min=1"`
	Elastic         bool   `toml:"elastic"`
	MaxWorkers      int    `toml:"max_workers" validate:"min=1"`
	ScaleThreshold  int    `toml:"scale_threshold" validate:"min=1"`
	Stagger         string `toml:"stagger"`          // extra delay before a worker after the first starts
	ReadyWait       string `toml:"ready_wait"`       // how long a worker waits on its predecessor's pre-login
	OverloadStagger string `toml:"overload_stagger"` // per-worker delay when the queue is backed up
	JoinTimeout     string `toml:"join_timeout"`
	PreLogin        bool   `toml:"pre_login"`
}

type IntakeConfig struct {
	MaxFileSize    int64    `toml:"max_file_size"` // bytes
	AllowedExts    []string `toml:"allowed_exts"`
	MinutesPerItem int      `toml:"minutes_per_item"` // used for the queue wait estimate
}

type CooldownConfig struct {
	Duration   string  `toml:"duration"`
	Privileged []int64 `toml:"privileged"` // owners exempt from cooldown
}

type DeliveryConfig struct {
	DirectAttempts int    `toml:"direct_attempts" validate:"min=1"`
	RetryDelay     string `toml:"retry_delay"`
	KeepArtifacts  bool   `toml:"keep_artifacts"`
}

type DriveConfig struct {
	Enabled         bool   `toml:"enabled"`
	CredentialsFile string `toml:"credentials_file"`
	TokenFile       string `toml:"token_file"`
	FolderID        string `toml:"folder_id"`
}

type NotifyConfig struct {
	Throttle string `toml:"throttle"` // minimum interval between messages per owner
	Burst    int    `toml:"burst"`
}

type CleanupConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // cron, seconds field included
	MaxAge   string `toml:"max_age"`  // scratch files older than this are removed
	History  string `toml:"history"`  // work item records older than this are removed

	GCSchedule string `toml:"gc_schedule"` // value-log garbage collection, empty disables
}

type LocatorsConfig struct {
	File string `toml:"file"` // empty = embedded defaults
}

type AdminConfig struct {
	Token string `toml:"token"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8095,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/vetter",
			},
		},
		Paths: PathsConfig{
			Uploads:   "./uploads",
			Downloads: "./downloads",
		},
		Platform: PlatformConfig{
			BaseURL:          "https://www.turnitin.com",
			LoginURL:         "https://www.turnitin.com/login_page.asp?lang=en_us",
			InboxURL:         "https://www.turnitin.com/t_inbox.asp?lang=en_us&aid={aid}",
			DefaultAID:       "quicksubmit",
			LoggedInMarkers:  []string{"inbox", "home"},
			InboxMarker:      "t_inbox.asp",
			CredentialsLabel: "default",
		},
		Browser: BrowserConfig{
			Headless: true,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0",
			},
			WindowWidth:    1920,
			WindowHeight:   1080,
			WebshareURL:    "https://proxy.webshare.io/api/v2/proxy/list/?mode=direct&page=1&page_size=25",
			ProxyCountry:   "US",
			ProxyTestURL:   "https://www.turnitin.com",
			StartupTimeout: "30s",
		},
		Session: SessionConfig{
			MaxAge:       "60m",
			ProbeTimeout: "10s",
			ChallengeMarkers: []string{
				"cloudflare", "checking your browser", "just a moment",
				"captcha", "access denied", "awswaf",
			},
			ChallengeWait:       "30s",
			ChallengeInterval:   "5s",
			FieldTimeout:        "5s",
			LoginConfirmTimeout: "15s",
			RequiredCookies:     []string{"session-id", "t", "apt.sid", "cwr_s"},
			LoginWaitTimeout:    "2m",
		},
		Submission: SubmissionConfig{
			AuthorFirst:    "Bot",
			AuthorLast:     "Checker",
			MaxTitleLength: 14,
			Checkboxes: []CheckboxRule{
				{Name: "internet", Value: "0", Checked: true},
				{Name: "student papers", Value: "1", Checked: true},
				{Name: "periodicals", Value: "14,32,36,917", Checked: true},
				{Name: "institution repository", Value: "100", Checked: false},
			},
			RepositoryValue:           "0",
			LargeFileThreshold:        30 * 1024 * 1024,
			ProcessingTimeout:         "90s",
			ExtendedProcessingTimeout: "180s",
			ProcessingPollInterval:    "2s",
			ConfirmFallbackTimeout:    "30s",
			ConfirmPollInterval:       "1s",
			ConfirmEnableTimeout:      "60s",
			ReceiptMarkers:            []string{"Submission complete", "Congratulations - your submission is complete!"},
			ReceiptAttempts:           15,
			ReceiptInterval:           "2s",
			StepTimeout:               "15s",
			OptionTimeout:             "3s",
			SettleDelay:               "30s",
		},
		Retrieval: RetrievalConfig{
			SearchAttempts:       5,
			SearchDelay:          "10s",
			ScoreAttempts:        30,
			ScoreDelay:           "10s",
			SortClickDelay:       "2s",
			OpenTimeout:          "15s",
			ReadinessTimeout:     "60s",
			ReadinessInterval:    "2s",
			ReadinessMaxInterval: "10s",
			AISentinels:          []string{"--%", "-%", "*%"},
			MenuAttempts:         3,
			MenuTimeout:          "5s",
			DownloadTimeout:      "60s",
		},
		Queue: QueueConfig{
			Capacity:        100,
			Workers:         1, // strict global ordering against the single platform account
			MaxWorkers:      3,
			ScaleThreshold:  2,
			Stagger:         "5s",
			ReadyWait:       "120s",
			OverloadStagger: "5s",
			JoinTimeout:     "30s",
			PreLogin:        true,
		},
		Intake: IntakeConfig{
			MaxFileSize:    20 * 1024 * 1024,
			AllowedExts:    []string{".pdf", ".doc", ".docx", ".txt", ".rtf", ".odt"},
			MinutesPerItem: 3,
		},
		Cooldown: CooldownConfig{
			Duration: "8m",
		},
		Delivery: DeliveryConfig{
			DirectAttempts: 3,
			RetryDelay:     "3s",
		},
		Drive: DriveConfig{
			CredentialsFile: "./credentials.json",
			TokenFile:       "./token.json",
		},
		Notify: NotifyConfig{
			Throttle: "250ms",
			Burst:    5,
		},
		Cleanup: CleanupConfig{
			Enabled:  true,
			Schedule: "0 */15 * * * *",
			MaxAge:   "2h",
			History:  "720h",

			GCSchedule: "0 30 * * * *",
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> .env -> env
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// .env never overrides variables already present in the environment
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VETTER_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("VETTER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("VETTER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("VETTER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("VETTER_LOG_OUTPUT"); output != "" {
		config.Logging.Output = splitList(output)
	}

	// Storage configuration
	if path := os.Getenv("VETTER_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	// Platform credentials
	if email := os.Getenv("VETTER_PLATFORM_EMAIL"); email != "" {
		config.Platform.Email = email
	}
	if password := os.Getenv("VETTER_PLATFORM_PASSWORD"); password != "" {
		config.Platform.Password = password
	}

	// Browser configuration (CHROME_PATH kept for existing deployments)
	if execPath := os.Getenv("VETTER_BROWSER_EXEC_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	} else if execPath := os.Getenv("CHROME_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}
	if headless := os.Getenv("VETTER_BROWSER_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = b
		}
	}
	if proxy := os.Getenv("VETTER_BROWSER_PROXY"); proxy != "" {
		config.Browser.Proxy = proxy
	} else if proxy := os.Getenv("MANUAL_PROXY"); proxy != "" {
		config.Browser.Proxy = proxy
	}
	if token := os.Getenv("VETTER_WEBSHARE_TOKEN"); token != "" {
		config.Browser.WebshareToken = token
	}

	// Queue configuration
	if workers := os.Getenv("VETTER_QUEUE_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Queue.Workers = w
		}
	}
	if elastic := os.Getenv("VETTER_QUEUE_ELASTIC"); elastic != "" {
		if b, err := strconv.ParseBool(elastic); err == nil {
			config.Queue.Elastic = b
		}
	}

	// Cooldown configuration
	if duration := os.Getenv("VETTER_COOLDOWN_DURATION"); duration != "" {
		config.Cooldown.Duration = duration
	}
	if privileged := os.Getenv("VETTER_COOLDOWN_PRIVILEGED"); privileged != "" {
		config.Cooldown.Privileged = nil
		for _, s := range splitList(privileged) {
			if id, err := strconv.ParseInt(s, 10, 64); err == nil {
				config.Cooldown.Privileged = append(config.Cooldown.Privileged, id)
			}
		}
	}

	// Drive configuration
	if enabled := os.Getenv("VETTER_DRIVE_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Drive.Enabled = b
		}
	}

	// Admin configuration
	if token := os.Getenv("VETTER_ADMIN_TOKEN"); token != "" {
		config.Admin.Token = token
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string, workers int) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if workers > 0 {
		config.Queue.Workers = workers
	}
}

// Validate checks struct constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Queue.MaxWorkers < c.Queue.Workers {
		return fmt.Errorf("invalid configuration: queue.max_workers (%d) below queue.workers (%d)", c.Queue.MaxWorkers, c.Queue.Workers)
	}
	for name, value := range c.durations() {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid configuration: %s=%q: %w", name, value, err)
		}
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}

func (c *Config) durations() map[string]string {
	return map[string]string{
		"browser.startup_timeout":                c.Browser.StartupTimeout,
		"session.max_age":                        c.Session.MaxAge,
		"session.probe_timeout":                  c.Session.ProbeTimeout,
		"session.challenge_wait":                 c.Session.ChallengeWait,
		"session.challenge_interval":             c.Session.ChallengeInterval,
		"session.field_timeout":                  c.Session.FieldTimeout,
		"session.login_confirm_timeout":          c.Session.LoginConfirmTimeout,
		"session.login_wait_timeout":             c.Session.LoginWaitTimeout,
		"submission.processing_timeout":          c.Submission.ProcessingTimeout,
		"submission.extended_processing_timeout": c.Submission.ExtendedProcessingTimeout,
		"submission.processing_poll_interval":    c.Submission.ProcessingPollInterval,
		"submission.confirm_fallback_timeout":    c.Submission.ConfirmFallbackTimeout,
		"submission.confirm_poll_interval":       c.Submission.ConfirmPollInterval,
		"submission.confirm_enable_timeout":      c.Submission.ConfirmEnableTimeout,
		"submission.receipt_interval":            c.Submission.ReceiptInterval,
		"submission.step_timeout":                c.Submission.StepTimeout,
		"submission.option_timeout":              c.Submission.OptionTimeout,
		"submission.settle_delay":                c.Submission.SettleDelay,
		"retrieval.search_delay":                 c.Retrieval.SearchDelay,
		"retrieval.score_delay":                  c.Retrieval.ScoreDelay,
		"retrieval.sort_click_delay":             c.Retrieval.SortClickDelay,
		"retrieval.open_timeout":                 c.Retrieval.OpenTimeout,
		"retrieval.readiness_timeout":            c.Retrieval.ReadinessTimeout,
		"retrieval.readiness_interval":           c.Retrieval.ReadinessInterval,
		"retrieval.readiness_max_interval":       c.Retrieval.ReadinessMaxInterval,
		"retrieval.menu_timeout":                 c.Retrieval.MenuTimeout,
		"retrieval.download_timeout":             c.Retrieval.DownloadTimeout,
		"queue.stagger":                          c.Queue.Stagger,
		"queue.ready_wait":                       c.Queue.ReadyWait,
		"queue.overload_stagger":                 c.Queue.OverloadStagger,
		"queue.join_timeout":                     c.Queue.JoinTimeout,
		"cooldown.duration":                      c.Cooldown.Duration,
		"delivery.retry_delay":                   c.Delivery.RetryDelay,
		"notify.throttle":                        c.Notify.Throttle,
		"cleanup.max_age":                        c.Cleanup.MaxAge,
		"cleanup.history":                        c.Cleanup.History,
	}
}

// ParseDuration parses a config duration, returning fallback when empty or malformed
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// splitList splits a comma-separated string and trims whitespace
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
