package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server       ServerConfig
	API          APIConfig
	Dispatch     DispatchConfig
	Hospital     HospitalConfig
	Location     LocationConfig
	Geocoder     GeocoderConfig
	Connectivity ConnectivityConfig
	Auth         AuthConfig
	Pager        PagerConfig
	Worker       WorkerConfig
	DB           DatabaseConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host      string
	Port      int
	RateLimit int // requests per second across all clients
}

// APIConfig is how the SOS client reaches the hospital backend.
type APIConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type DispatchConfig struct {
	HoldDuration    time.Duration
	TickInterval    time.Duration
	SubmitTimeout   time.Duration
	CancelTimeout   time.Duration
	EmergencyNumber string
	EmergencyType   string
}

type HospitalConfig struct {
	Name      string
	Latitude  float64
	Longitude float64
}

type LocationConfig struct {
	NormalInterval     time.Duration
	NormalDistanceM    float64
	EmergencyInterval  time.Duration
	EmergencyDistanceM float64
	// ReplayRoute is a "lat,lon;lat,lon" route played back in place of a
	// device GPS.
	ReplayRoute string
}

type GeocoderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type ConnectivityConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	DevTokens bool
}

type PagerConfig struct {
	TwilioAccountSID string
	TwilioAuthToken  string
	FromNumber       string
	OnCallNumber     string
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:      getEnv("SERVER_HOST", "localhost"),
			Port:      getEnvInt("SERVER_PORT", 8080),
			RateLimit: getEnvInt("SERVER_RATE_LIMIT", 20),
		},
		API: APIConfig{
			BaseURL: getEnv("SOS_API_URL", "http://localhost:8080"),
			Token:   getEnv("SOS_TOKEN", ""),
			Timeout: getEnvDuration("SOS_API_TIMEOUT", 15*time.Second),
		},
		Dispatch: DispatchConfig{
			HoldDuration:    getEnvDuration("SOS_HOLD_DURATION", time.Second),
			TickInterval:    getEnvDuration("SOS_HOLD_TICK", 16*time.Millisecond),
			SubmitTimeout:   getEnvDuration("SOS_SUBMIT_TIMEOUT", 8*time.Second),
			CancelTimeout:   getEnvDuration("SOS_CANCEL_TIMEOUT", 8*time.Second),
			EmergencyNumber: getEnv("SOS_EMERGENCY_NUMBER", "1669"),
			EmergencyType:   getEnv("SOS_EMERGENCY_TYPE", "ACS"),
		},
		Hospital: HospitalConfig{
			Name:      getEnv("HOSPITAL_NAME", "ACS Fast Track Hospital"),
			Latitude:  getEnvFloat("HOSPITAL_LAT", 13.7650),
			Longitude: getEnvFloat("HOSPITAL_LON", 100.5380),
		},
		Location: LocationConfig{
			NormalInterval:     getEnvDuration("LOCATION_NORMAL_INTERVAL", time.Minute),
			NormalDistanceM:    getEnvFloat("LOCATION_NORMAL_DISTANCE_M", 100),
			EmergencyInterval:  getEnvDuration("LOCATION_EMERGENCY_INTERVAL", 5*time.Second),
			EmergencyDistanceM: getEnvFloat("LOCATION_EMERGENCY_DISTANCE_M", 5),
			ReplayRoute:        getEnv("LOCATION_REPLAY_ROUTE", "13.8549,100.5380;13.8300,100.5380;13.8000,100.5380"),
		},
		Geocoder: GeocoderConfig{
			BaseURL: getEnv("LOCATIONIQ_URL", "https://us1.locationiq.com/v1"),
			APIKey:  getEnv("LOCATIONIQ_API_KEY", ""),
			Timeout: getEnvDuration("LOCATIONIQ_TIMEOUT", 5*time.Second),
		},
		Connectivity: ConnectivityConfig{
			Interval: getEnvDuration("SOS_CONNECTIVITY_INTERVAL", 10*time.Second),
			Timeout:  getEnvDuration("SOS_CONNECTIVITY_TIMEOUT", 3*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  getEnvDuration("JWT_TTL", 24*time.Hour),
			DevTokens: getEnvBool("SIM_DEV_TOKENS", false),
		},
		Pager: PagerConfig{
			TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber:       getEnv("TWILIO_FROM_NUMBER", ""),
			OnCallNumber:     getEnv("ONCALL_NUMBER", ""),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 2),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/hospital-sim.db"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimit < 1 {
		return fmt.Errorf("invalid rate limit: %d", c.Server.RateLimit)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Dispatch.TickInterval <= 0 || c.Dispatch.HoldDuration < c.Dispatch.TickInterval {
		return fmt.Errorf("hold duration %v must be at least one tick (%v)", c.Dispatch.HoldDuration, c.Dispatch.TickInterval)
	}
	if c.Dispatch.SubmitTimeout <= 0 {
		return fmt.Errorf("submit timeout must be positive")
	}
	if c.Dispatch.EmergencyNumber == "" {
		return fmt.Errorf("emergency number must not be empty")
	}

	if c.Hospital.Latitude < -90 || c.Hospital.Latitude > 90 {
		return fmt.Errorf("invalid hospital latitude: %v", c.Hospital.Latitude)
	}
	if c.Hospital.Longitude < -180 || c.Hospital.Longitude > 180 {
		return fmt.Errorf("invalid hospital longitude: %v", c.Hospital.Longitude)
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
