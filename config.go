package fetchcascade

import (
	"fmt"
	"io/ioutil"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config is the process-wide configuration instance the rest of
// fetchcascade should access. See FetchcascadeConfig for available
// members. Populated the way the teacher's WalkerConfig was: defaults set,
// then a yaml file unmarshalled over them, then invariants asserted.
var Config FetchcascadeConfig

// ConfigName is the path (relative or absolute) to the config file that
// should be read.
var ConfigName = "fetchcascade.yaml"

// FetchcascadeConfig defines the available global configuration
// parameters, read straight from the config file (fetchcascade.yaml by
// default).
type FetchcascadeConfig struct {
	Fetcher struct {
		UserAgent               string   `yaml:"user_agent"`
		AcceptFormats           []string `yaml:"accept_formats"`
		AcceptProtocols         []string `yaml:"accept_protocols"`
		MaxHTTPContentSizeBytes int64    `yaml:"max_http_content_size_bytes"`
		MaxRedirects            int      `yaml:"max_redirects"`
		HTTPTimeout             string   `yaml:"http_timeout"`
		BlacklistPrivateIPs     bool     `yaml:"blacklist_private_ips"`
		MaxDNSCacheEntries      int      `yaml:"max_dns_cache_entries"`
	} `yaml:"fetcher"`

	Learning struct {
		PersistPath string `yaml:"persist_path"`
		DebounceMs  int    `yaml:"debounce_ms"`
	} `yaml:"learning"`

	Usage struct {
		PersistPath string `yaml:"persist_path"`
		MaxEvents   int    `yaml:"max_events"`
		DebounceMs  int    `yaml:"debounce_ms"`
	} `yaml:"usage"`

	Perf struct {
		ReservoirCapacity int `yaml:"reservoir_capacity"`
	} `yaml:"perf"`

	Batch struct {
		DefaultConcurrency     int `yaml:"default_concurrency"`
		DefaultPerURLTimeoutMs int `yaml:"default_per_url_timeout_ms"`
	} `yaml:"batch"`

	Health struct {
		WindowSize               int     `yaml:"window_size"`
		MinSampleSize             int     `yaml:"min_sample_size"`
		ConsecutiveFailureThresh int     `yaml:"consecutive_failure_threshold"`
		HealthyThreshold          float64 `yaml:"healthy_threshold"`
		DegradedThreshold         float64 `yaml:"degraded_threshold"`
		FailingThreshold          float64 `yaml:"failing_threshold"`
		NotificationRingSize      int     `yaml:"notification_ring_size"`
	} `yaml:"health"`

	Change struct {
		PersistPath           string   `yaml:"persist_path"`
		HighLenDelta          float64  `yaml:"high_len_delta"`
		MedLenDelta           float64  `yaml:"med_len_delta"`
		SimilarityForModify   float64  `yaml:"similarity_for_modify"`
		HighSignificanceWords []string `yaml:"high_significance_words"`
	} `yaml:"change"`

	Cassandra struct {
		Hosts             []string `yaml:"hosts"`
		Keyspace          string   `yaml:"keyspace"`
		ReplicationFactor int      `yaml:"replication_factor"`
		Timeout           string   `yaml:"timeout"`
	} `yaml:"cassandra"`

	Playwright struct {
		Enabled           bool   `yaml:"enabled"`
		NavigationTimeout string `yaml:"navigation_timeout"`
	} `yaml:"playwright"`
}

var configLogger *zap.Logger

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	configLogger = l

	err = readConfig()
	if err != nil {
		if strings.Contains(err.Error(), "no such file or directory") {
			configLogger.Info("config file not found, continuing with defaults", zap.String("path", ConfigName))
		} else {
			panic(err.Error())
		}
	}
}

// SetDefaultConfig resets Config to default values, regardless of what a
// config file previously set.
func SetDefaultConfig() {
	Config.Fetcher.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	Config.Fetcher.AcceptFormats = []string{"text/html", "application/xhtml+xml"}
	Config.Fetcher.AcceptProtocols = []string{"http", "https"}
	Config.Fetcher.MaxHTTPContentSizeBytes = 20 * 1024 * 1024
	Config.Fetcher.MaxRedirects = 5
	Config.Fetcher.HTTPTimeout = "30s"
	Config.Fetcher.BlacklistPrivateIPs = true
	Config.Fetcher.MaxDNSCacheEntries = 20000

	Config.Learning.PersistPath = "data/learning.json"
	Config.Learning.DebounceMs = PersistDebounceMs

	Config.Usage.PersistPath = "data/usage.json"
	Config.Usage.MaxEvents = MaxEvents
	Config.Usage.DebounceMs = PersistDebounceMs

	Config.Perf.ReservoirCapacity = ReservoirCapacity

	Config.Batch.DefaultConcurrency = DefaultBatchConcurrency
	Config.Batch.DefaultPerURLTimeoutMs = DefaultPerURLTimeoutMs

	Config.Health.WindowSize = 20
	Config.Health.MinSampleSize = 5
	Config.Health.ConsecutiveFailureThresh = 3
	Config.Health.HealthyThreshold = 0.7
	Config.Health.DegradedThreshold = 0.5
	Config.Health.FailingThreshold = 0.2
	Config.Health.NotificationRingSize = 100

	Config.Change.PersistPath = "data/change.json"
	Config.Change.HighLenDelta = 0.2
	Config.Change.MedLenDelta = 0.05
	Config.Change.SimilarityForModify = 0.5
	Config.Change.HighSignificanceWords = []string{
		"required", "must", "deadline", "fee", "visa", "permit", "expire",
	}

	Config.Cassandra.Hosts = []string{"localhost"}
	Config.Cassandra.Keyspace = "fetchcascade"
	Config.Cassandra.ReplicationFactor = 3
	Config.Cassandra.Timeout = "2s"

	Config.Playwright.Enabled = false
	Config.Playwright.NavigationTimeout = "30s"
}

// ReadConfigFile sets a new path to find the fetchcascade yaml config file
// and forces a reload of the config.
func ReadConfigFile(path string) error {
	ConfigName = path
	return readConfig()
}

func assertConfigInvariants() error {
	var errs []string

	if _, err := time.ParseDuration(Config.Fetcher.HTTPTimeout); err != nil {
		errs = append(errs, fmt.Sprintf("Fetcher.HTTPTimeout failed to parse: %v", err))
	}
	if _, err := time.ParseDuration(Config.Cassandra.Timeout); err != nil {
		errs = append(errs, fmt.Sprintf("Cassandra.Timeout failed to parse: %v", err))
	}
	if _, err := time.ParseDuration(Config.Playwright.NavigationTimeout); err != nil {
		errs = append(errs, fmt.Sprintf("Playwright.NavigationTimeout failed to parse: %v", err))
	}
	if Config.Batch.DefaultConcurrency < 1 {
		errs = append(errs, "Batch.DefaultConcurrency must be greater than 0")
	}
	if Config.Perf.ReservoirCapacity < 1 {
		errs = append(errs, "Perf.ReservoirCapacity must be greater than 0")
	}
	if Config.Health.ConsecutiveFailureThresh < 1 {
		errs = append(errs, "Health.ConsecutiveFailureThresh must be greater than 0")
	}

	if len(errs) > 0 {
		em := ""
		for _, e := range errs {
			configLogger.Error("config error", zap.String("reason", e))
			em += "\t" + e + "\n"
		}
		return fmt.Errorf("config error:\n%v", em)
	}
	return nil
}

func readConfig() error {
	SetDefaultConfig()

	data, err := ioutil.ReadFile(ConfigName)
	if err != nil {
		return fmt.Errorf("failed to read config file (%v): %v", ConfigName, err)
	}
	if err := yaml.Unmarshal(data, &Config); err != nil {
		return fmt.Errorf("failed to unmarshal yaml from config file (%v): %v", ConfigName, err)
	}

	if err := assertConfigInvariants(); err != nil {
		return err
	}
	configLogger.Info("loaded config file", zap.String("path", ConfigName))
	return nil
}
