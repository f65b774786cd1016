package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Distance metrics understood by the matcher.
const (
	MetricEuclidean = "euclidean"
	MetricCosine    = "cosine"
)

// Match policies.
const (
	PolicyFirst   = "first"
	PolicyNearest = "nearest"
)

// Attendance reset modes.
const (
	ResetEveryCall = "every_call"
	ResetDaily     = "daily"
)

// Encoding store backends.
const (
	EncodingsPostgres = "postgres"
	EncodingsFile     = "file"
)

type Config struct {
	Database   DatabaseConfig
	Roster     RosterConfig
	Detector   DetectorConfig
	Storage    StorageConfig
	Matching   MatchingConfig
	Attendance AttendanceConfig
	Auth       AuthConfig
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the encoding HNSW index (optional, rebuilt on startup if empty)
}

// RosterConfig points at an external school information system holding the class roster.
type RosterConfig struct {
	DatabaseURL string // MariaDB DSN (e.g., sis:sis@tcp(mariadb:3306)/school)
	Table       string // table with name, roll and class columns (default "students")
}

type DetectorConfig struct {
	URL          string // face embedding server, defaults to http://localhost:8000
	Dim          int    `yaml:"dim"`            // expected encoding length
	MaxImageSize int    `yaml:"max_image_size"` // frames larger than this are downscaled before detection
}

type StorageConfig struct {
	UploadsDir   string // where registration photos are written
	Encodings    string // "postgres" or "file"
	EncodingsDir string // used when Encodings is "file"
}

type MatchingConfig struct {
	Tolerance float64 `yaml:"tolerance"` // maximum distance for a match, inclusive
	Metric    string  `yaml:"metric"`
	Policy    string  `yaml:"policy"`
}

type AttendanceConfig struct {
	ResetMode  string `yaml:"reset_mode"`
	SeedAbsent bool   `yaml:"seed_absent"` // insert Absent rows for enrolled students without one
	TimeZone   string `yaml:"time_zone"`
}

// AuthConfig holds the teacher accounts allowed to sign in.
type AuthConfig struct {
	// Teachers maps teacher ID to a bcrypt password hash.
	Teachers map[string]string
}

type defaults struct {
	Matching   MatchingConfig   `yaml:"matching"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Detector   DetectorConfig   `yaml:"detector"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float, falling back to defaultVal on absence or parse errors.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// parseTeachers parses "id:hash,id2:hash2". Bcrypt hashes contain no commas.
func parseTeachers(s string) map[string]string {
	teachers := make(map[string]string)
	for entry := range strings.SplitSeq(s, ",") {
		entry = strings.TrimSpace(entry)
		id, hash, ok := strings.Cut(entry, ":")
		if !ok || id == "" || hash == "" {
			continue
		}
		teachers[id] = hash
	}
	return teachers
}

func Load() *Config {
	var d defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Roster: RosterConfig{
			DatabaseURL: os.Getenv("ROSTER_DATABASE_URL"),
			Table:       envString("ROSTER_TABLE", "students"),
		},
		Detector: DetectorConfig{
			URL:          os.Getenv("DETECTOR_URL"),
			Dim:          envInt("DETECTOR_DIM", d.Detector.Dim),
			MaxImageSize: envInt("MAX_IMAGE_SIZE", d.Detector.MaxImageSize),
		},
		Storage: StorageConfig{
			UploadsDir:   envString("UPLOADS_DIR", "uploads"),
			Encodings:    envString("ENCODINGS_BACKEND", EncodingsPostgres),
			EncodingsDir: envString("ENCODINGS_DIR", "encodings"),
		},
		Matching: MatchingConfig{
			Tolerance: envFloat("MATCH_TOLERANCE", d.Matching.Tolerance),
			Metric:    envString("MATCH_METRIC", d.Matching.Metric),
			Policy:    envString("MATCH_POLICY", d.Matching.Policy),
		},
		Attendance: AttendanceConfig{
			ResetMode:  envString("ATTENDANCE_RESET_MODE", d.Attendance.ResetMode),
			SeedAbsent: envBool("ATTENDANCE_SEED_ABSENT", d.Attendance.SeedAbsent),
			TimeZone:   envString("ATTENDANCE_TIME_ZONE", d.Attendance.TimeZone),
		},
		Auth: AuthConfig{
			Teachers: parseTeachers(os.Getenv("TEACHERS")),
		},
	}
}

// Validate checks enumerated settings so misconfiguration fails at startup rather than per request.
func (c *Config) Validate() error {
	switch c.Matching.Metric {
	case MetricEuclidean, MetricCosine:
	default:
		return fmt.Errorf("unknown MATCH_METRIC %q", c.Matching.Metric)
	}
	switch c.Matching.Policy {
	case PolicyFirst, PolicyNearest:
	default:
		return fmt.Errorf("unknown MATCH_POLICY %q", c.Matching.Policy)
	}
	switch c.Attendance.ResetMode {
	case ResetEveryCall, ResetDaily:
	default:
		return fmt.Errorf("unknown ATTENDANCE_RESET_MODE %q", c.Attendance.ResetMode)
	}
	switch c.Storage.Encodings {
	case EncodingsPostgres, EncodingsFile:
	default:
		return fmt.Errorf("unknown ENCODINGS_BACKEND %q", c.Storage.Encodings)
	}
	return nil
}
