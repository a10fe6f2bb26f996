package config // package config loads application configuration from environment variables

import (
    "fmt"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/joho/godotenv"
    log "github.com/sirupsen/logrus"
)

// Store drivers accepted by STORE_DRIVER.
const (
    DriverMySQL  = "mysql"
    DriverMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable; see Load for the names and defaults.
type Config struct {
    Env  string // application environment (e.g. "dev", "prod")
    Port string // HTTP port to listen on

    StoreDriver string // "mysql" or "memory"
    DBUser      string // database username
    DBPass      string // database password (optional)
    DBHost      string // database host address
    DBPort      string // database port number
    DBName      string // database name
    DBMigrate   bool   // create the schema on start

    JWTSecret    string // secret used to verify (and, for devtoken, sign) JWTs
    AccessTTLMin int    // access token time-to-live in minutes

    SlotLockTimeout time.Duration // bound on the wait for a slot lock
    RetryAttempts   int           // re-runs after a slot conflict or busy lock
    RetryInitial    time.Duration // first backoff interval
    RetryMax        time.Duration // backoff cap

    ExpiryEnabled  bool   // run the expiry job
    ExpirySchedule string // cron schedule of the expiry job

    EventsEnabled bool   // publish domain events to RabbitMQ
    AMQPURL       string // broker URL
    EventsQueue   string // queue receiving the events
    EventsLogPath string // file the consumer appends to

    MetricsEnabled  bool          // expose /metrics
    ShutdownTimeout time.Duration // graceful shutdown bound

    Log LogConfig
}

// LogConfig configures the logrus logger.
type LogConfig struct {
    Level  string // logrus level name
    Format string // "text" or "json"
    Dir    string // when set, also write to <Dir>/server.log
}

// LoadDotEnv loads a .env file when one exists.  Variables already present
// in the environment win.
func LoadDotEnv(files ...string) {
    if len(files) == 0 {
        files = []string{".env"}
    }
    for _, f := range files {
        if _, err := os.Stat(f); err != nil {
            continue
        }
        if err := godotenv.Load(f); err != nil {
            log.Warnf("config: cannot load %s: %v", f, err)
        }
    }
}

// Load reads configuration values from environment variables and returns a
// Config.  Missing required variables cause the program to exit with a
// fatal log message naming all of them.
func Load() Config {
    cfg, err := Parse()
    if err != nil {
        log.Fatal(err)
    }
    return cfg
}

// Parse is Load without the exit, for callers that want the error.
func Parse() (Config, error) {
    var missing []string
    need := func(key string) string {
        v, ok := os.LookupEnv(key)
        if !ok || v == "" {
            missing = append(missing, key)
        }
        return v
    }

    cfg := Config{
        Env:         envStr("APP_ENV", "dev"),
        Port:        envStr("APP_PORT", "8080"),
        StoreDriver: strings.ToLower(envStr("STORE_DRIVER", DriverMySQL)),
        DBPass:      os.Getenv("DB_PASS"),
        DBMigrate:   envBool("DB_MIGRATE", true),

        JWTSecret:    need("JWT_SECRET"),
        AccessTTLMin: AccessTTLMinutes(),

        SlotLockTimeout: envDur("SLOT_LOCK_TIMEOUT", 2*time.Second),
        RetryAttempts:   envInt("BOOKING_RETRY_ATTEMPTS", 3),
        RetryInitial:    envDur("BOOKING_RETRY_INITIAL", 20*time.Millisecond),
        RetryMax:        envDur("BOOKING_RETRY_MAX", 500*time.Millisecond),

        ExpiryEnabled:  envBool("EXPIRY_ENABLED", true),
        ExpirySchedule: envStr("EXPIRY_SCHEDULE", "@every 1m"),

        EventsEnabled: envBool("EVENTS_ENABLED", false),
        AMQPURL:       firstEnv("RABBITMQ_URL", "AMQP_URL"),
        EventsQueue:   envStr("EVENTS_QUEUE", "reservation_events"),
        EventsLogPath: envStr("EVENTS_LOG_PATH", "logs/reservations.log"),

        MetricsEnabled:  envBool("METRICS_ENABLED", true),
        ShutdownTimeout: envDur("SHUTDOWN_TIMEOUT", 10*time.Second),

        Log: LogConfig{
            Level:  envStr("LOG_LEVEL", "info"),
            Format: envStr("LOG_FORMAT", "text"),
            Dir:    os.Getenv("LOG_DIR"),
        },
    }

    switch cfg.StoreDriver {
    case DriverMySQL:
        cfg.DBUser = need("DB_USER")
        cfg.DBHost = need("DB_HOST")
        cfg.DBPort = need("DB_PORT")
        cfg.DBName = need("DB_NAME")
    case DriverMemory:
    default:
        return Config{}, fmt.Errorf("invalid STORE_DRIVER %q (want %s or %s)", cfg.StoreDriver, DriverMySQL, DriverMemory)
    }
    if cfg.EventsEnabled && cfg.AMQPURL == "" {
        missing = append(missing, "RABBITMQ_URL")
    }
    if len(missing) > 0 {
        return Config{}, fmt.Errorf("missing required env var: %s", strings.Join(missing, ", "))
    }
    if cfg.SlotLockTimeout < time.Second {
        // GET_LOCK takes whole seconds.
        cfg.SlotLockTimeout = time.Second
    }
    return cfg, nil
}

// AccessTTLMinutes reads ACCESS_TOKEN_TTL_MIN on its own, for tools that
// do not need the full server configuration.
func AccessTTLMinutes() int {
    return envInt("ACCESS_TOKEN_TTL_MIN", 60)
}

func firstEnv(keys ...string) string {
    for _, k := range keys {
        if v := os.Getenv(k); v != "" {
            return v
        }
    }
    return ""
}

func envStr(k, d string) string {
    if v := os.Getenv(k); v != "" {
        return v
    }
    return d
}

func envBool(k string, d bool) bool {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    switch strings.ToLower(v) {
    case "1", "true", "yes", "on":
        return true
    case "0", "false", "no", "off":
        return false
    }
    return d
}

func envInt(k string, d int) int {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    if n, err := strconv.Atoi(v); err == nil {
        return n
    }
    return d
}

func envDur(k string, d time.Duration) time.Duration {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    if dur, err := time.ParseDuration(v); err == nil {
        return dur
    }
    return d
}
