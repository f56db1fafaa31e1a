package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Host          string
		Port          int
		Name          string
		DisableTLS    bool
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
	}

	// RateLimitConfig holds the per-user caps applied by the messaging service.
	RateLimitConfig struct {
		Backend              string // sql | redis | memory
		ConversationsPerHour int
		MessagesPerMinute    int
		AttachmentsPerMinute int
	}

	UploadConfig struct {
		MediaDir          string
		MaxAttachmentSize int64
	}

	SchoolConfig struct {
		Name           string
		URL            string
		PrimaryColor   string
		SecondaryColor string
	}

	Config struct {
		AppName          string
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		WorkDir          string
		SecretKey        string
		FrontendBaseURL  string
		DefaultFromEmail string
		RollbarToken     string
		SendgridAPIKey   string

		PasswordResetTimeoutDelta time.Duration

		Server    ServerConfig
		Database  DatabaseConfig
		Redis     RedisConfig
		RateLimit RateLimitConfig
		Upload    UploadConfig
		School    SchoolConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DefaultFromAddress parses DefaultFromEmail, falling back to a bare address.
func (c *Config) DefaultFromAddress() mail.Address {
	addr, err := mail.ParseAddress(c.DefaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: c.DefaultFromEmail}
	}
	return *addr
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Liceo JBH")
	v.SetDefault("secretKey", "k2#v9-x)fq8_1ms=lnb@+4r$hualqui!jbh7w^0c(z8d")
	v.SetDefault("frontendBaseURL", "http://localhost:8080")
	v.SetDefault("defaultFromEmail", "Liceo JBH <noreply@localhost>")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("server.host", "0.0.0.0:8000")
	v.SetDefault("server.debugHost", "0.0.0.0:4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.user", "intranet")
	v.SetDefault("database.password", "intranet")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "intranet")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rateLimit.backend", "sql")
	v.SetDefault("rateLimit.conversationsPerHour", 10)
	v.SetDefault("rateLimit.messagesPerMinute", 20)
	v.SetDefault("rateLimit.attachmentsPerMinute", 5)

	v.SetDefault("upload.mediaDir", "media")
	v.SetDefault("upload.maxAttachmentSize", int64(5*1024*1024))

	v.SetDefault("school.name", "Liceo Juan Bautista de Hualqui")
	v.SetDefault("school.url", "")
	v.SetDefault("school.primaryColor", "#003366")
	v.SetDefault("school.secondaryColor", "#FFCC00")
}

// NewConfig loads the configuration for the current ENV (DEV by default, TEST, QA, PROD).
// Values come from defaults, then config/.env.<env> when present, then the environment.
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
	}

	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}

	// DEV_DATABASE_HOST -> database.host
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Config{
		AppName:                   v.GetString("appName"),
		Env:                       env,
		Build:                     v.GetString("build"),
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		WorkDir:                   wd,
		SecretKey:                 v.GetString("secretKey"),
		FrontendBaseURL:           v.GetString("frontendBaseURL"),
		DefaultFromEmail:          v.GetString("defaultFromEmail"),
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridAPIKey:            v.GetString("sendgridApiKey"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			DebugHost:                 v.GetString("server.debugHost"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			Backend:              v.GetString("rateLimit.backend"),
			ConversationsPerHour: v.GetInt("rateLimit.conversationsPerHour"),
			MessagesPerMinute:    v.GetInt("rateLimit.messagesPerMinute"),
			AttachmentsPerMinute: v.GetInt("rateLimit.attachmentsPerMinute"),
		},
		Upload: UploadConfig{
			MediaDir:          v.GetString("upload.mediaDir"),
			MaxAttachmentSize: v.GetInt64("upload.maxAttachmentSize"),
		},
		School: SchoolConfig{
			Name:           v.GetString("school.name"),
			URL:            v.GetString("school.url"),
			PrimaryColor:   v.GetString("school.primaryColor"),
			SecondaryColor: v.GetString("school.secondaryColor"),
		},
	}
}

// NewTestConfig returns a Config suitable for unit tests; it never touches the filesystem.
func NewTestConfig() *Config {
	v := viper.New()
	setDefaults(v)
	return &Config{
		AppName:                   v.GetString("appName"),
		Env:                       "TEST",
		Build:                     "test",
		TestMode:                  true,
		SecretKey:                 "secret",
		FrontendBaseURL:           v.GetString("frontendBaseURL"),
		DefaultFromEmail:          v.GetString("defaultFromEmail"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		Server: ServerConfig{
			Host:                      "localhost:0",
			ShutdownTimeout:           time.Second,
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Backend:              "memory",
			ConversationsPerHour: v.GetInt("rateLimit.conversationsPerHour"),
			MessagesPerMinute:    v.GetInt("rateLimit.messagesPerMinute"),
			AttachmentsPerMinute: v.GetInt("rateLimit.attachmentsPerMinute"),
		},
		Upload: UploadConfig{
			MediaDir:          os.TempDir(),
			MaxAttachmentSize: v.GetInt64("upload.maxAttachmentSize"),
		},
		School: SchoolConfig{
			Name:           v.GetString("school.name"),
			PrimaryColor:   v.GetString("school.primaryColor"),
			SecondaryColor: v.GetString("school.secondaryColor"),
		},
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("%s (%s, build %s)", c.AppName, c.Env, c.Build)
}
