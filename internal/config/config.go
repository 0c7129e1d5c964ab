// Package config loads the environment-driven configuration recognised
// by both binaries (spec.md section 6). It follows the teacher's plain
// struct-of-getenv shape (apps/public-api-service, apps/discovery-service)
// rather than a flags/viper layer, since every option here is a single
// scalar with a sensible default.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/arc-self/requestrepo/internal/subdomain"
)

// Config holds every option from spec.md section 6's configuration table.
type Config struct {
	RootDomain      string
	ServerIP        string
	SubdomainLength int
	SubdomainAlpha  string
	JWTSecret       string
	MaxFileSize     int
	MaxRequestSize  int
	TTLDays         int
	IncludeServerHdr bool

	RedisURL string
	NATSURL  string

	HTTPAddr  string
	DNSAddr   string
	AssetsDir string
}

// Load reads configuration from the environment, applying the same
// defaults the original service used (original_source/backend/config.py,
// original_source/dns/config.py).
func Load() Config {
	c := Config{
		RootDomain:       strings.ToLower(getenv("DOMAIN", "localhost")),
		ServerIP:         getenv("SERVER_IP", "127.0.0.1"),
		SubdomainLength:  getenvInt("SUBDOMAIN_LENGTH", subdomain.DefaultLength),
		SubdomainAlpha:   getenv("SUBDOMAIN_ALPHABET", subdomain.DefaultAlphabet),
		JWTSecret:        getenv("JWT_SECRET", "secret"),
		MaxFileSize:      getenvInt("MAX_FILE_SIZE", 1024*1024*2),
		MaxRequestSize:   getenvInt("MAX_REQUEST_SIZE", 1024*1024*10),
		TTLDays:          getenvInt("TTL_DAYS", 30),
		IncludeServerHdr: strings.EqualFold(getenv("INCLUDE_SERVER_DOMAIN", "false"), "true"),
		RedisURL:         getenv("REDIS_URL", "redis://localhost:6379"),
		NATSURL:          getenv("NATS_URL", ""),
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		DNSAddr:          getenv("DNS_ADDR", ":53"),
		AssetsDir:        getenv("DASHBOARD_ASSETS_DIR", "./public"),
	}
	return c
}

// Grammar returns the subdomain grammar this configuration mints and
// validates against.
func (c Config) Grammar() subdomain.Grammar {
	return subdomain.Grammar{Length: c.SubdomainLength, Alphabet: c.SubdomainAlpha}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
