// Package config defines the configuration contract and handles loading and
// validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken      = "TELEGRAM_TOKEN"
	KeyTargetChat         = "TARGET_CHAT_ID"
	KeyWhatsAppNumber     = "WHATSAPP_NUMBER"
	KeyMenuPageURL        = "MENU_PAGE_URL"
	KeyTimezone           = "TIMEZONE"
	KeyReminderTime       = "REMINDER_TIME"
	KeyAppEnv             = "APP_ENV"
	KeyLogLevel           = "LOG_LEVEL"
	KeyHTTPPort           = "HTTP_PORT"
	KeyDevMode            = "DEV_MODE"
	KeyDevReminderMinutes = "DEV_REMINDER_MINUTES"
	KeyMongoURI           = "MONGO_URI"
	KeyMongoDB            = "MONGO_DB"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv             = EnvProduction
	DefaultLogLevel           = "info"
	DefaultHTTPPort           = 8080
	DefaultMenuPageURL        = "https://linktr.ee/cocina.siete"
	DefaultTimezone           = "America/Bogota"
	DefaultReminderTime       = "07:45"
	DefaultDevReminderMinutes = 2

	// Recommended database names by environment.
	DefaultMongoDBProd = "lunch_bot"
	DefaultMongoDBDev  = "lunch_bot_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyTargetChat,
		Example:     "123456789",
		Required:    true,
		Description: "Chat that receives scheduled lunch reminders.",
	},
	{
		Key:         KeyWhatsAppNumber,
		Example:     "3001234567",
		Required:    true,
		Description: "Contact number filled into the order form.",
	},
	{
		Key:         KeyMenuPageURL,
		Example:     DefaultMenuPageURL,
		Default:     DefaultMenuPageURL,
		Description: "Link-aggregator page checked for the daily menu announcement.",
	},
	{
		Key:         KeyTimezone,
		Example:     DefaultTimezone,
		Default:     DefaultTimezone,
		Description: "IANA timezone used for the reminder schedule.",
	},
	{
		Key:         KeyReminderTime,
		Example:     DefaultReminderTime,
		Default:     DefaultReminderTime,
		Description: "Local time of day (HH:MM) at which reminders fire.",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
	},
	{
		Key:         KeyDevMode,
		Example:     "true",
		Default:     "false",
		Description: "Replaces the daily schedule with a fast reminder interval.",
	},
	{
		Key:         KeyDevReminderMinutes,
		Example:     strconv.Itoa(DefaultDevReminderMinutes),
		Default:     strconv.Itoa(DefaultDevReminderMinutes),
		Description: "Minutes between reminders when DEV_MODE is enabled.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Description: "Optional MongoDB connection string for subscription restore.",
		Notes:       "Leave unset to keep subscriptions in memory only.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Description: "MongoDB database name; defaulted by environment when " + KeyMongoURI + " is set.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken    string
	TargetChatID     int64
	WhatsAppNumber   string
	MenuPageURL      string
	Timezone         string
	ReminderHour     int
	ReminderMinute   int
	AppEnv           string
	LogLevel         string
	HTTPPort         int
	DevMode          bool
	DevReminderEvery time.Duration
	MongoURI         string
	MongoDB          string
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:           firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:    strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		WhatsAppNumber:   strings.TrimSpace(os.Getenv(KeyWhatsAppNumber)),
		MenuPageURL:      firstNonEmpty(strings.TrimSpace(os.Getenv(KeyMenuPageURL)), DefaultMenuPageURL),
		Timezone:         firstNonEmpty(strings.TrimSpace(os.Getenv(KeyTimezone)), DefaultTimezone),
		LogLevel:         firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:         DefaultHTTPPort,
		DevReminderEvery: time.Duration(DefaultDevReminderMinutes) * time.Minute,
		MongoURI:         strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:          strings.TrimSpace(os.Getenv(KeyMongoDB)),
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	chatRaw := strings.TrimSpace(os.Getenv(KeyTargetChat))
	if chatRaw == "" {
		missing = append(missing, KeyTargetChat)
	} else {
		chatID, parseErr := strconv.ParseInt(chatRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyTargetChat, parseErr)
		}
		cfg.TargetChatID = chatID
	}

	if cfg.WhatsAppNumber == "" {
		missing = append(missing, KeyWhatsAppNumber)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	hour, minute, err := parseReminderTime(firstNonEmpty(strings.TrimSpace(os.Getenv(KeyReminderTime)), DefaultReminderTime))
	if err != nil {
		return Config{}, err
	}
	cfg.ReminderHour = hour
	cfg.ReminderMinute = minute

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyTimezone, err)
	}

	if err := validateMenuPageURL(cfg.MenuPageURL); err != nil {
		return Config{}, err
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	devModeRaw := strings.TrimSpace(os.Getenv(KeyDevMode))
	if devModeRaw != "" {
		devMode, parseErr := strconv.ParseBool(devModeRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyDevMode, parseErr)
		}
		cfg.DevMode = devMode
	}

	devMinutesRaw := strings.TrimSpace(os.Getenv(KeyDevReminderMinutes))
	if devMinutesRaw != "" {
		minutes, parseErr := strconv.Atoi(devMinutesRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyDevReminderMinutes, parseErr)
		}
		if minutes <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyDevReminderMinutes)
		}
		cfg.DevReminderEvery = time.Duration(minutes) * time.Minute
	}

	if cfg.MongoURI != "" {
		if !strings.HasPrefix(cfg.MongoURI, "mongodb://") && !strings.HasPrefix(cfg.MongoURI, "mongodb+srv://") {
			return Config{}, fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
		}
		if cfg.MongoDB == "" {
			if cfg.IsDevelopment() {
				cfg.MongoDB = DefaultMongoDBDev
			} else {
				cfg.MongoDB = DefaultMongoDBProd
			}
		}
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// MongoEnabled reports whether the optional subscription store is configured.
func (c Config) MongoEnabled() bool {
	return c.MongoURI != ""
}

// FormatRedacted renders a human-readable summary of the configuration with
// secrets masked, for startup diagnostics.
func FormatRedacted(cfg Config) string {
	var b strings.Builder

	fmt.Fprintf(&b, "telegram_token: %s\n", maskToken(cfg.TelegramToken))
	fmt.Fprintf(&b, "target_chat_id: %d\n", cfg.TargetChatID)
	fmt.Fprintf(&b, "whatsapp_number: %s\n", maskToken(cfg.WhatsAppNumber))
	fmt.Fprintf(&b, "menu_page_url: %s\n", cfg.MenuPageURL)
	fmt.Fprintf(&b, "timezone: %s\n", cfg.Timezone)
	fmt.Fprintf(&b, "reminder_time: %02d:%02d\n", cfg.ReminderHour, cfg.ReminderMinute)
	fmt.Fprintf(&b, "app_env: %s\n", cfg.AppEnv)
	fmt.Fprintf(&b, "log_level: %s\n", cfg.LogLevel)
	fmt.Fprintf(&b, "http_port: %d\n", cfg.HTTPPort)
	fmt.Fprintf(&b, "dev_mode: %t\n", cfg.DevMode)

	if cfg.MongoEnabled() {
		fmt.Fprintf(&b, "mongo_uri: %s\n", redactMongoURI(cfg.MongoURI))
		fmt.Fprintf(&b, "mongo_db: %s\n", cfg.MongoDB)
	} else {
		fmt.Fprintf(&b, "mongo: disabled\n")
	}

	return b.String()
}

func maskToken(value string) string {
	if len(value) <= 4 {
		return "redacted"
	}

	return value[:4] + "...redacted"
}

func redactMongoURI(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "redacted"
	}

	parsed.User = nil
	return parsed.String()
}

func parseReminderTime(value string) (int, int, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid %s: expected HH:MM, got %q", KeyReminderTime, value)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid %s: hour out of range in %q", KeyReminderTime, value)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid %s: minute out of range in %q", KeyReminderTime, value)
	}

	return hour, minute, nil
}

func validateMenuPageURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", KeyMenuPageURL, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid %s: must be an http(s) URL", KeyMenuPageURL)
	}

	return nil
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
