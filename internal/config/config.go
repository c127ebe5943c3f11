package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	LogFile        string
	ClinicTimezone string

	// HealthAtom backends
	MedilinkAPIURL    string
	MedilinkToken     string
	DentalinkAPIURL   string
	DentalinkToken    string
	DentalinkBranches []int
	MedilinkBranches  []int
	DefaultBackend    string
	CancelProbeOrder  []string
	LookupOrder       []string
	SingleBackend     bool
	BackendTimeout    time.Duration
	SearchDeadline    time.Duration
	BackendsFile      string

	// GoHighLevel CRM
	GHLAccessToken           string
	GHLBaseURL               string
	GHLCalendarID            string
	GHLLocationID            string
	GHLProfessionalCalendars map[int]string

	// CRM job transport
	CRMQueue       string // memory | sqs
	CRMQueueURL    string
	CRMQueueSize   int
	CRMWorkerCount int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Rate limiting (Redis when RedisAddr is set, in-memory otherwise)
	RedisAddr        string
	RedisPassword    string
	RedisTLS         bool
	RateLimitPerMin  int
	RateLimitBurst   int
	RateLimitEnabled bool
}

// Load reads configuration from environment variables
func Load() *Config {
	medilinkToken := getEnv("MEDILINK_TOKEN", "")
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", ""),
		ClinicTimezone: getEnv("CLINIC_TIMEZONE", "America/Santiago"),

		MedilinkAPIURL:    getEnv("MEDILINK_API_URL", "https://api.medilink2.healthatom.com/api/v5"),
		MedilinkToken:     medilinkToken,
		DentalinkAPIURL:   getEnv("DENTALINK_API_URL", "https://api.dentalink.healthatom.com/api/v1"),
		DentalinkToken:    getEnv("DENTALINK_TOKEN", medilinkToken),
		DentalinkBranches: getEnvAsIntList("DENTALINK_BRANCHES", []int{1, 2, 3, 4}),
		MedilinkBranches:  getEnvAsIntList("MEDILINK_BRANCHES", nil),
		DefaultBackend:    strings.ToLower(getEnv("DEFAULT_BACKEND", "medilink")),
		CancelProbeOrder:  getEnvAsList("CANCEL_PROBE_ORDER", []string{"dentalink", "medilink"}),
		LookupOrder:       getEnvAsList("BACKEND_LOOKUP_ORDER", []string{"medilink", "dentalink"}),
		SingleBackend:     getEnvAsBool("SINGLE_BACKEND", false),
		BackendTimeout:    getEnvAsDuration("BACKEND_TIMEOUT", 15*time.Second),
		SearchDeadline:    getEnvAsDuration("SEARCH_DEADLINE", 45*time.Second),
		BackendsFile:      getEnv("BACKENDS_FILE", ""),

		GHLAccessToken:           getEnv("GHL_ACCESS_TOKEN", ""),
		GHLBaseURL:               getEnv("GHL_BASE_URL", "https://services.leadconnectorhq.com"),
		GHLCalendarID:            getEnv("GHL_CALENDAR_ID", ""),
		GHLLocationID:            getEnv("GHL_LOCATION_ID", ""),
		GHLProfessionalCalendars: getEnvAsIntMap("GHL_PROFESSIONAL_CALENDARS"),

		CRMQueue:       strings.ToLower(getEnv("CRM_QUEUE", "memory")),
		CRMQueueURL:    getEnv("CRM_QUEUE_URL", ""),
		CRMQueueSize:   getEnvAsInt("CRM_QUEUE_SIZE", 256),
		CRMWorkerCount: getEnvAsInt("CRM_WORKERS", 4),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisTLS:         getEnvAsBool("REDIS_TLS", false),
		RateLimitPerMin:  getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
		RateLimitBurst:   getEnvAsInt("RATE_LIMIT_BURST", 20),
		RateLimitEnabled: getEnvAsBool("RATE_LIMIT_ENABLED", true),
	}
}

// GHLConfigured reports whether CRM mirroring can run.
func (c *Config) GHLConfigured() bool {
	return strings.TrimSpace(c.GHLAccessToken) != ""
}

// BackendsFile is the optional TOML routing/profile file. Values set here
// override the environment.
//
//	default = "medilink"
//	probe_order = ["dentalink", "medilink"]
//
//	[backends.dentalink]
//	base_url = "https://api.dentalink.healthatom.com/api/v1"
//	token = "..."
//	branches = [1, 2, 3, 4]
type BackendsFile struct {
	Default       string                 `toml:"default"`
	ProbeOrder    []string               `toml:"probe_order"`
	LookupOrder   []string               `toml:"lookup_order"`
	SingleBackend *bool                  `toml:"single_backend"`
	Backends      map[string]BackendFile `toml:"backends"`
	// Calendars maps professional ids (as strings) to CRM calendar ids.
	Calendars map[string]string `toml:"calendars"`
}

// BackendFile is one [backends.<name>] table.
type BackendFile struct {
	BaseURL       string `toml:"base_url"`
	Token         string `toml:"token"`
	Branches      []int  `toml:"branches"`
	Professionals []int  `toml:"professionals"`
}

// ProfessionalBackends maps professional ids listed in the file to their backend.
func (f *BackendsFile) ProfessionalBackends() map[int]string {
	out := map[int]string{}
	if f == nil {
		return out
	}
	for _, name := range sortedKeys(f.Backends) {
		for _, id := range f.Backends[name].Professionals {
			out[id] = strings.ToLower(name)
		}
	}
	return out
}

// BranchBackends maps every listed branch to its backend. A branch listed
// for both backends is a configuration error.
func (c *Config) BranchBackends() (map[int]string, error) {
	out := make(map[int]string, len(c.DentalinkBranches)+len(c.MedilinkBranches))
	for _, id := range c.DentalinkBranches {
		out[id] = "dentalink"
	}
	for _, id := range c.MedilinkBranches {
		if out[id] == "dentalink" {
			return nil, fmt.Errorf("config: branch %d listed for both dentalink and medilink", id)
		}
		out[id] = "medilink"
	}
	return out, nil
}

// LoadBackendsFile decodes path and applies it to c.
func (c *Config) LoadBackendsFile(path string) (*BackendsFile, error) {
	var file BackendsFile
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("config: %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := c.apply(&file); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &file, nil
}

func (c *Config) apply(f *BackendsFile) error {
	if f.Default != "" {
		c.DefaultBackend = strings.ToLower(f.Default)
	}
	if len(f.ProbeOrder) > 0 {
		c.CancelProbeOrder = f.ProbeOrder
	}
	if len(f.LookupOrder) > 0 {
		c.LookupOrder = f.LookupOrder
	}
	if f.SingleBackend != nil {
		c.SingleBackend = *f.SingleBackend
	}
	for name, b := range f.Backends {
		switch strings.ToLower(name) {
		case "dentalink":
			c.DentalinkAPIURL = firstNonEmpty(b.BaseURL, c.DentalinkAPIURL)
			c.DentalinkToken = firstNonEmpty(b.Token, c.DentalinkToken)
			if len(b.Branches) > 0 {
				c.DentalinkBranches = b.Branches
			}
		case "medilink":
			c.MedilinkAPIURL = firstNonEmpty(b.BaseURL, c.MedilinkAPIURL)
			c.MedilinkToken = firstNonEmpty(b.Token, c.MedilinkToken)
			if len(b.Branches) > 0 {
				c.MedilinkBranches = b.Branches
			}
		default:
			return fmt.Errorf("unknown backend %q", name)
		}
	}
	if len(f.Calendars) > 0 {
		if c.GHLProfessionalCalendars == nil {
			c.GHLProfessionalCalendars = map[int]string{}
		}
		for k, v := range f.Calendars {
			id, err := strconv.Atoi(strings.TrimSpace(k))
			if err != nil {
				return fmt.Errorf("calendar key %q is not a professional id", k)
			}
			c.GHLProfessionalCalendars[id] = v
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, lower-casing entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvAsIntList parses "1,2,3". Malformed entries are skipped.
func getEnvAsIntList(key string, defaultValue []int) []int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []int
	for _, part := range strings.Split(valueStr, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvAsIntMap parses "7:cal-a,9:cal-b".
func getEnvAsIntMap(key string) map[int]string {
	out := map[int]string{}
	for _, pair := range strings.Split(getEnv(key, ""), ",") {
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || strings.TrimSpace(v) == "" {
			continue
		}
		out[id] = strings.TrimSpace(v)
	}
	return out
}
