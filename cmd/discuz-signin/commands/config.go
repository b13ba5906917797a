package commands

import (
	"discuz-signin/internal/components/chrono"
	"discuz-signin/internal/notify"
	"discuz-signin/internal/scrapers/discuz"
	"discuz-signin/lib/configutil"
	configlibsql "discuz-signin/lib/configutil/libsql"
	"discuz-signin/lib/telemetry"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingEnv means a required credential was neither configured nor set
// in the environment.
var ErrMissingEnv = errors.New("missing required environment variables")

type ForumConfig struct {
	Hostname   string `json:"hostname"`
	Scheme     string `json:"scheme"`
	PubUrl     string `json:"pub_url"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	QuestionId string `json:"question_id"`
	Answer     string `json:"answer"`
	// DisableChallengeBypass sends requests over the plain transport.
	DisableChallengeBypass bool `json:"disable_challenge_bypass"`
	// RateLimit is the maximum requests per second, 0 is unlimited.
	RateLimit float64 `json:"rate_limit"`
	Timeout   string  `json:"timeout"`
	// DumpDir receives a file for every http exchange when set.
	DumpDir string `json:"dump_dir"`
}

// PacingConfig holds go duration strings, an empty string means the default
// and "0s" disables the sleep.
type PacingConfig struct {
	TokenJitterMin string `json:"token_jitter_min"`
	TokenJitterMax string `json:"token_jitter_max"`
	RetryDelay     string `json:"retry_delay"`
	ChallengePoll  string `json:"challenge_poll"`
	VisitDelay     string `json:"visit_delay"`
}

type LimitsConfig struct {
	ChallengePolls int `json:"challenge_polls"`
	VerifyAttempts int `json:"verify_attempts"`
	LoginAttempts  int `json:"login_attempts"`
	Visits         int `json:"visits"`
	VisitMinUid    int `json:"visit_min_uid"`
	VisitMaxUid    int `json:"visit_max_uid"`
}

type OcrConfig struct {
	ApiKey  string `json:"api_key"`
	BaseUrl string `json:"base_url"`
	Model   string `json:"model"`
	Timeout string `json:"timeout"`
}

type ScheduleConfig struct {
	Cron              string `json:"cron"`
	Timezone          string `json:"timezone"`
	PerfStatsInterval string `json:"perf_stats_interval"`
}

type Config struct {
	Forum     ForumConfig         `json:"forum"`
	Pacing    PacingConfig        `json:"pacing"`
	Limits    LimitsConfig        `json:"limits"`
	Ocr       OcrConfig           `json:"ocr"`
	History   configlibsql.Struct `json:"history"`
	Notify    notify.Config       `json:"notify"`
	Schedule  ScheduleConfig      `json:"schedule"`
	Log       telemetry.LogConfig `json:"log"`
	Telemetry telemetry.Config    `json:"telemetry"`
}

func defaultConfig() Config {
	pacing := discuz.DefaultPacing()
	limits := discuz.DefaultLimits()
	return Config{
		Forum: ForumConfig{
			Scheme:     "https",
			QuestionId: "0",
			Timeout:    "30s",
		},
		Pacing: PacingConfig{
			TokenJitterMin: pacing.TokenJitterMin.String(),
			TokenJitterMax: pacing.TokenJitterMax.String(),
			RetryDelay:     pacing.RetryDelay.String(),
			ChallengePoll:  pacing.ChallengePoll.String(),
			VisitDelay:     pacing.VisitDelay.String(),
		},
		Limits: LimitsConfig{
			ChallengePolls: limits.ChallengePolls,
			VerifyAttempts: limits.VerifyAttempts,
			LoginAttempts:  limits.LoginAttempts,
			Visits:         limits.Visits,
			VisitMinUid:    limits.VisitMinUid,
			VisitMaxUid:    limits.VisitMaxUid,
		},
		Ocr: OcrConfig{
			Timeout: "30s",
		},
		Schedule: ScheduleConfig{
			Cron:              "0 8 * * *",
			Timezone:          chrono.DefaultLocation,
			PerfStatsInterval: "1m",
		},
	}
}

// LoadConfig reads the config file (if any), fills defaults and applies the
// environment on top.
func LoadConfig(path string, getenv func(string) string) (Config, error) {
	cfg, err := configutil.ReadConfigWithDefaults(path, defaultConfig())
	if err != nil {
		return Config{}, err
	}
	applyEnv(&cfg, getenv)
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	overrides := []struct {
		name  string
		field *string
	}{
		{"HOSTNAME", &cfg.Forum.Hostname},
		{"USERNAME", &cfg.Forum.Username},
		{"PASSWORD", &cfg.Forum.Password},
		{"QUESTIONID", &cfg.Forum.QuestionId},
		{"ANSWER", &cfg.Forum.Answer},
		{"PUB_URL", &cfg.Forum.PubUrl},
		{"OPENAI_API_KEY", &cfg.Ocr.ApiKey},
	}
	for _, o := range overrides {
		value := getenv(o.name)
		if value != "" {
			*o.field = value
		}
	}
}

// RequireCredentials reports every missing required value at once.
func (c Config) RequireCredentials() error {
	var missing []string
	if c.Forum.Hostname == "" {
		missing = append(missing, "HOSTNAME")
	}
	if c.Forum.Username == "" {
		missing = append(missing, "USERNAME")
	}
	if c.Forum.Password == "" {
		missing = append(missing, "PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return nil
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", name, value)
	}
	return d, nil
}

func (c PacingConfig) parse() (discuz.Pacing, error) {
	var out discuz.Pacing
	fields := []struct {
		name  string
		value string
		out   *time.Duration
	}{
		{"pacing.token_jitter_min", c.TokenJitterMin, &out.TokenJitterMin},
		{"pacing.token_jitter_max", c.TokenJitterMax, &out.TokenJitterMax},
		{"pacing.retry_delay", c.RetryDelay, &out.RetryDelay},
		{"pacing.challenge_poll", c.ChallengePoll, &out.ChallengePoll},
		{"pacing.visit_delay", c.VisitDelay, &out.VisitDelay},
	}
	for _, f := range fields {
		d, err := parseDuration(f.name, f.value)
		if err != nil {
			return discuz.Pacing{}, err
		}
		*f.out = d
	}
	return out, nil
}

func (c LimitsConfig) limits() discuz.Limits {
	return discuz.Limits{
		ChallengePolls: c.ChallengePolls,
		VerifyAttempts: c.VerifyAttempts,
		LoginAttempts:  c.LoginAttempts,
		Visits:         c.Visits,
		VisitMinUid:    c.VisitMinUid,
		VisitMaxUid:    c.VisitMaxUid,
	}
}
