package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the service configuration
type Config struct {
	Port      string `yaml:"port" validate:"required"`
	DBPath    string `yaml:"db_path" validate:"required"`
	JWTSecret string `yaml:"jwt_secret"` // empty disables auth on trigger endpoints

	// Optional PostgreSQL telemetry source; the service DB is used when empty
	TelemetryDatabaseURL string `yaml:"telemetry_database_url"`

	// Directory of the file blob mirror
	BlobDir string `yaml:"blob_dir" validate:"required"`

	// Interval of the daily preprocess worker, 0 disables it
	PreprocessInterval time.Duration `yaml:"preprocess_interval" validate:"gte=0"`

	RateLimit int `yaml:"rate_limit" validate:"gte=0"` // requests per second per client, 0 disables

	Analysis Analysis `yaml:"analysis" validate:"required"`
}

// Analysis holds every threshold of the classification and clustering pipeline
type Analysis struct {
	// Level 1
	Epsilon1Km  float64 `yaml:"epsilon1_km" validate:"gt=0"`
	MinSamples1 int     `yaml:"min_samples1" validate:"gte=1"`

	// Level 2
	Epsilon2Km         float64 `yaml:"epsilon2_km" validate:"gt=0"`
	MinWeight2         float64 `yaml:"min_weight2" validate:"gt=0"`
	SignificanceWeight float64 `yaml:"significance_weight" validate:"gte=0"`
	HeadingOutlierZ    float64 `yaml:"heading_outlier_z" validate:"gt=0"`

	// Speed classes, m/s
	DelaySpeed float64 `yaml:"delay_speed" validate:"gt=0"`
	FastSpeed  float64 `yaml:"fast_speed" validate:"gtfield=DelaySpeed"`
	StopSpeed  float64 `yaml:"stop_speed" validate:"gt=0"`

	// Quality gate
	MinSamples     int     `yaml:"min_samples" validate:"gte=2"`
	MaxGapSeconds  int     `yaml:"max_gap_seconds" validate:"gt=0"`
	ReversalDegree float64 `yaml:"reversal_degree" validate:"gt=0,lte=180"`
	ReversalSpeed  float64 `yaml:"reversal_speed" validate:"gte=0"`
	RollingWindow  int     `yaml:"rolling_window" validate:"gte=1"`

	// Weekday periods, HH:MM, end exclusive
	MorningPeak Period `yaml:"morning_peak"`
	Daytime     Period `yaml:"daytime"`
	EveningPeak Period `yaml:"evening_peak"`

	Timezone          string `yaml:"timezone" validate:"required"`
	PreprocessLagDays int    `yaml:"preprocess_lag_days" validate:"gte=0"`
	Workers           int    `yaml:"workers" validate:"gte=1"`

	location *time.Location
}

// Period is a half-open wall-clock interval
type Period struct {
	Start string `yaml:"start" validate:"required,datetime=15:04"`
	End   string `yaml:"end" validate:"required,datetime=15:04"`
}

// Seconds returns the period bounds as seconds of day, 0 and 0 when malformed
func (p Period) Seconds() (start, end int) {
	var err error
	if start, err = secondsOf(p.Start); err != nil {
		return 0, 0
	}
	if end, err = secondsOf(p.End); err != nil {
		return 0, 0
	}
	return start, end
}

func secondsOf(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, err
	}
	return t.Hour()*3600 + t.Minute()*60, nil
}

// Location returns the analysis timezone, UTC when it cannot be loaded
func (a *Analysis) Location() *time.Location {
	if a.location != nil {
		return a.location
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultAnalysis returns the default pipeline thresholds
func DefaultAnalysis() Analysis {
	a := Analysis{
		Epsilon1Km:         0.02,
		MinSamples1:        5,
		Epsilon2Km:         0.05,
		MinWeight2:         10,
		SignificanceWeight: 15,
		HeadingOutlierZ:    1.5,
		DelaySpeed:         1.5,
		FastSpeed:          4.0,
		StopSpeed:          1.0,
		MinSamples:         10,
		MaxGapSeconds:      120,
		ReversalDegree:     150,
		ReversalSpeed:      5,
		RollingWindow:      5,
		MorningPeak:        Period{Start: "06:00", End: "09:00"},
		Daytime:            Period{Start: "09:00", End: "15:00"},
		EveningPeak:        Period{Start: "15:00", End: "18:00"},
		Timezone:           "Europe/Helsinki",
		PreprocessLagDays:  1,
		Workers:            4,
	}
	a.location, _ = time.LoadLocation(a.Timezone)
	return a
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Port:               ":8080",
		DBPath:             "./data/delay_analytics.db",
		BlobDir:            "./data/blobs",
		PreprocessInterval: 24 * time.Hour,
		RateLimit:          20,
		Analysis:           DefaultAnalysis(),
	}
}

// LoadEnvFiles loads .env and then .env.local, which overrides
func LoadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE and environment variables, in that order
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the timezone
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	loc, err := time.LoadLocation(c.Analysis.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Analysis.Timezone, err)
	}
	c.Analysis.location = loc
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Port, "PORT")
	setString(&cfg.DBPath, "DB_PATH")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.TelemetryDatabaseURL, "TELEMETRY_DATABASE_URL")
	setString(&cfg.BlobDir, "BLOB_DIR")
	setString(&cfg.Analysis.Timezone, "ANALYSIS_TIMEZONE")

	if v := os.Getenv("PREPROCESS_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PREPROCESS_INTERVAL: %w", err)
		}
		cfg.PreprocessInterval = d
	}

	ints := map[string]*int{
		"RATE_LIMIT":          &cfg.RateLimit,
		"PREPROCESS_LAG_DAYS": &cfg.Analysis.PreprocessLagDays,
		"ANALYSIS_WORKERS":    &cfg.Analysis.Workers,
		"MIN_SAMPLES1":        &cfg.Analysis.MinSamples1,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = n
		}
	}

	floats := map[string]*float64{
		"EPSILON1_KM":         &cfg.Analysis.Epsilon1Km,
		"EPSILON2_KM":         &cfg.Analysis.Epsilon2Km,
		"MIN_WEIGHT2":         &cfg.Analysis.MinWeight2,
		"SIGNIFICANCE_WEIGHT": &cfg.Analysis.SignificanceWeight,
	}
	for name, dst := range floats {
		if v := os.Getenv(name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = f
		}
	}
	return nil
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}
