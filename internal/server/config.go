package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aspect-build/listbridge/internal/ebay"
)

// DefaultSessionTTL is the lifetime of a login session.
const DefaultSessionTTL = 7 * 24 * time.Hour

// Config holds server configuration loaded from environment variables.
type Config struct {
	MasterSecret string
	AdminToken   string
	DBPath       string
	ListenAddr   string
	ConfigPage   string
	CORSOrigins  []string
	CookieSecure bool
	SessionTTL   time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Ebay ebay.Config
}

// LoadConfig loads server configuration from environment variables. eBay
// provider values are optional here; operations that need them report their
// absence when called.
func LoadConfig() (*Config, error) {
	masterSecret := os.Getenv("LISTBRIDGE_MASTER_SECRET")
	if masterSecret == "" {
		return nil, fmt.Errorf("LISTBRIDGE_MASTER_SECRET is required")
	}
	if len(masterSecret) < 16 {
		return nil, fmt.Errorf("LISTBRIDGE_MASTER_SECRET must be at least 16 characters")
	}

	adminToken := os.Getenv("LISTBRIDGE_ADMIN_TOKEN")
	if adminToken == "" {
		return nil, fmt.Errorf("LISTBRIDGE_ADMIN_TOKEN is required")
	}
	if len(adminToken) < 16 {
		return nil, fmt.Errorf("LISTBRIDGE_ADMIN_TOKEN must be at least 16 characters")
	}

	dbPath := os.Getenv("LISTBRIDGE_DB_PATH")
	if dbPath == "" {
		dbPath = "listbridge.db"
	}

	listenAddr := os.Getenv("LISTBRIDGE_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	configPage := os.Getenv("LISTBRIDGE_CONFIG_PAGE")
	if configPage == "" {
		configPage = "/settings"
	}

	cookieSecure := true
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("LISTBRIDGE_COOKIE_SECURE"))); v != "" {
		switch v {
		case "1", "true", "yes", "on":
			cookieSecure = true
		case "0", "false", "no", "off":
			cookieSecure = false
		default:
			return nil, fmt.Errorf("LISTBRIDGE_COOKIE_SECURE must be one of true/false/1/0/yes/no/on/off")
		}
	}

	sessionTTL := DefaultSessionTTL
	if v := strings.TrimSpace(os.Getenv("LISTBRIDGE_SESSION_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("LISTBRIDGE_SESSION_TTL must be a positive duration, got %q", v)
		}
		sessionTTL = d
	}

	var corsOrigins []string
	if v := os.Getenv("LISTBRIDGE_CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				corsOrigins = append(corsOrigins, o)
			}
		}
	}

	redisDB := 0
	if v := strings.TrimSpace(os.Getenv("LISTBRIDGE_REDIS_DB")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("LISTBRIDGE_REDIS_DB must be a non-negative integer, got %q", v)
		}
		redisDB = n
	}

	ebayCfg, err := ebay.LoadConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		MasterSecret:  masterSecret,
		AdminToken:    adminToken,
		DBPath:        dbPath,
		ListenAddr:    listenAddr,
		ConfigPage:    configPage,
		CORSOrigins:   corsOrigins,
		CookieSecure:  cookieSecure,
		SessionTTL:    sessionTTL,
		RedisAddr:     strings.TrimSpace(os.Getenv("LISTBRIDGE_REDIS_ADDR")),
		RedisPassword: os.Getenv("LISTBRIDGE_REDIS_PASSWORD"),
		RedisDB:       redisDB,
		Ebay:          ebayCfg,
	}, nil
}
