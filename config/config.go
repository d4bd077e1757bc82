// Package config loads the legacy "key=value" configuration files used by
// every meshline service binary. The format predates the module: one entry
// per line, a line whose first non-blank character is "#" is a comment (a
// "#" later in a line is kept as part of the value), blank lines and lines
// without "=" are skipped, and both the key
// and the value are whitespace-trimmed before storage.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is a flat, parsed key=value file.
type Config struct {
	values map[string]string
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	c := &Config{values: make(map[string]string)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue // no '=' means no entry; skipped, not an error
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		c.values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return c, nil
}

// Get returns the raw string value, or "" if the key is absent.
func (c *Config) Get(key string) string {
	return c.values[key]
}

// GetDefault returns the value for key, or def if the key is absent or its
// value is empty.
func (c *Config) GetDefault(key, def string) string {
	if v, ok := c.values[key]; ok && v != "" {
		return v
	}
	return def
}

// GetInt parses the value as an int, returning def on any error.
func (c *Config) GetInt(key string, def int) int {
	v, ok := c.values[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetSeconds parses the value as a count of seconds, returning def on error.
func (c *Config) GetSeconds(key string, def time.Duration) time.Duration {
	n := c.GetInt(key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// RPCConfig is the configuration shape shared by every meshline service
// binary: where to listen, where to advertise, and how to reach the
// registry.
type RPCConfig struct {
	ServerIP          string
	ServerPort        string
	RegistryEndpoints []string
}

// LoadRPCConfig reads "rpcserverip", "rpcserverport" and
// "registryendpoints" (comma-separated) from path.
func LoadRPCConfig(path string) (*RPCConfig, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	endpoints := strings.Split(c.GetDefault("registryendpoints", "127.0.0.1:2379"), ",")
	for i := range endpoints {
		endpoints[i] = strings.TrimSpace(endpoints[i])
	}
	return &RPCConfig{
		ServerIP:          c.GetDefault("rpcserverip", "127.0.0.1"),
		ServerPort:        c.GetDefault("rpcserverport", "8000"),
		RegistryEndpoints: endpoints,
	}, nil
}

// PoolConfig holds the connection-pool tuning keys, generalized to any
// backing store reachable through database/sql.
type PoolConfig struct {
	IP                string
	Port              int
	Username          string
	Password          string
	DBName            string
	InitSize          int
	MaxSize           int
	MaxIdleTime       time.Duration
	ConnectionTimeOut time.Duration
}

// LoadPoolConfig reads the pool tuning parameters from path, with defaults
// for any key the file omits.
func LoadPoolConfig(path string) (*PoolConfig, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &PoolConfig{
		IP:                c.GetDefault("ip", "127.0.0.1"),
		Port:              c.GetInt("port", 5432),
		Username:          c.GetDefault("username", "root"),
		Password:          c.GetDefault("password", ""),
		DBName:            c.GetDefault("dbname", "meshline"),
		InitSize:          c.GetInt("initSize", 10),
		MaxSize:           c.GetInt("maxSize", 1024),
		MaxIdleTime:       c.GetSeconds("maxIdleTime", 60*time.Second),
		ConnectionTimeOut: time.Duration(c.GetInt("connectionTimeOut", 10000)) * time.Millisecond,
	}, nil
}
