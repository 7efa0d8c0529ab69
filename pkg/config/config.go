package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/xaenox/relay-bot/internal/models"
)

type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Bot       BotConfig       `mapstructure:"bot"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

type TelegramConfig struct {
	Token    string  `mapstructure:"token"`
	AdminIDs []int64 `mapstructure:"admin_ids"`
	OwnerID  int64   `mapstructure:"owner_id"`
}

type BotConfig struct {
	Mode             string `mapstructure:"mode"`
	TargetGroupID    int64  `mapstructure:"target_group_id"`
	WelcomeMessage   string `mapstructure:"welcome_message"`
	MaxMessageLength int    `mapstructure:"max_message_length"`
}

type RateLimitConfig struct {
	Messages      int `mapstructure:"messages"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

type StorageConfig struct {
	DataFile         string `mapstructure:"data_file"`
	AutoSaveInterval int    `mapstructure:"auto_save_interval"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

const defaultWelcomeMessage = `👋 Welcome to Anonymous Feedback Bot!

📝 Send me any message and I'll forward it anonymously to the administrators.
🔒 Your identity will remain completely anonymous.

ℹ️ Use /help for more information.`

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

func parseAdminIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid admin id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("bot.mode", string(models.ModePrivate))
	v.SetDefault("bot.welcome_message", defaultWelcomeMessage)
	v.SetDefault("bot.max_message_length", 4096)
	v.SetDefault("ratelimit.messages", 10)
	v.SetDefault("ratelimit.window_seconds", 60)
	v.SetDefault("storage.data_file", "bot_data.json")
	v.SetDefault("storage.auto_save_interval", 300)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", true)

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file; the bot can run from environment variables alone
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
		config.Database.UseInMemory = false
	}

	// Get other environment variables
	if token := v.GetString("BOT_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if adminIDs := v.GetString("ADMIN_IDS"); adminIDs != "" {
		ids, err := parseAdminIDs(adminIDs)
		if err != nil {
			return nil, err
		}
		config.Telegram.AdminIDs = ids
	}

	if ownerID := v.GetInt64("OWNER_ID"); ownerID != 0 {
		config.Telegram.OwnerID = ownerID
	}

	if mode := v.GetString("BOT_MODE"); mode != "" {
		config.Bot.Mode = mode
	}

	if groupID := v.GetInt64("TARGET_GROUP_ID"); groupID != 0 {
		config.Bot.TargetGroupID = groupID
	}

	if dataFile := v.GetString("DATA_FILE"); dataFile != "" {
		config.Storage.DataFile = dataFile
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if !models.Mode(c.Bot.Mode).Valid() {
		return fmt.Errorf("bot.mode must be %q or %q, got %q",
			models.ModePrivate, models.ModeGroup, c.Bot.Mode)
	}
	if models.Mode(c.Bot.Mode) == models.ModeGroup && c.Bot.TargetGroupID == 0 {
		return errors.New("bot.target_group_id is required when bot.mode is group")
	}
	if c.RateLimit.Messages <= 0 || c.RateLimit.WindowSeconds <= 0 {
		return errors.New("ratelimit.messages and ratelimit.window_seconds must be positive")
	}
	return nil
}

// IsAdmin reports whether id belongs to a configured administrator or the owner.
func (c *Config) IsAdmin(id int64) bool {
	if c.IsOwner(id) {
		return true
	}
	for _, adminID := range c.Telegram.AdminIDs {
		if id == adminID {
			return true
		}
	}
	return false
}

// IsOwner reports whether id is the configured owner.
func (c *Config) IsOwner(id int64) bool {
	return id != 0 && id == c.Telegram.OwnerID
}
