package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/stream"
	"github.com/iidesho/esbridge/stream/event/store"
	"github.com/joho/godotenv"
)

const (
	EndpointKey       = "eventstore.endpoint"
	UsernameKey       = "eventstore.username"
	PasswordKey       = "eventstore.password"
	RequireLeaderKey  = "eventstore.require_leader"
	FormatKey         = "eventstore.format"
	MetadataFormatKey = "eventstore.metadata_format"
	AwaitTimeoutKey   = "eventstore.await_timeout"
	LogDirKey         = "log.dir"
)

// Config holds the connection parameters, read once at startup.
type Config struct {
	// Endpoint is either esdb://host:port?tls=false or inmemory://name.
	Endpoint       string
	Username       string
	Password       sbragi.RedactedString
	RequireLeader  bool
	Format         string
	MetadataFormat string
	AwaitTimeout   time.Duration
	LogDir         string
}

// Load reads the given properties files into the environment and parses the configuration
// from it. Without files local_override.properties is tried first, then .env. Missing files are
// not an error, set environment variables are never overridden.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		err := load("local_override.properties")
		if err != nil {
			err = load(".env")
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	for _, file := range files {
		err := load(file)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	return Parse(os.Getenv)
}

func load(file string) error {
	err := godotenv.Load(file)
	sbragi.WithoutEscalation().WithError(err).Debug("loading properties", "file", file)
	return err
}

// Parse builds a Config from a key lookup. Invalid values are precondition violations.
func Parse(get func(key string) string) (c Config, err error) {
	c = Config{
		Endpoint:       get(EndpointKey),
		Username:       get(UsernameKey),
		Password:       sbragi.RedactedString(get(PasswordKey)),
		Format:         get(FormatKey),
		MetadataFormat: get(MetadataFormatKey),
		LogDir:         get(LogDirKey),
	}
	if c.Endpoint == "" {
		return c, result.Precondition("%s is required", EndpointKey)
	}
	if v := get(RequireLeaderKey); v != "" {
		c.RequireLeader, err = strconv.ParseBool(v)
		if err != nil {
			return c, result.Precondition("%s: %v", RequireLeaderKey, err)
		}
	}
	if v := get(AwaitTimeoutKey); v != "" {
		c.AwaitTimeout, err = time.ParseDuration(v)
		if err != nil {
			return c, result.Precondition("%s: %v", AwaitTimeoutKey, err)
		}
		if c.AwaitTimeout < 0 {
			return c, result.Precondition("%s can not be negative", AwaitTimeoutKey)
		}
	}
	return c, nil
}

// Credentials are nil when no username is configured.
func (c Config) Credentials() *store.Credentials {
	if c.Username == "" {
		return nil
	}
	return &store.Credentials{
		Login:    c.Username,
		Password: string(c.Password),
	}
}

func (c Config) Defaults() stream.Defaults {
	return stream.Defaults{
		Credentials:    c.Credentials(),
		RequireLeader:  c.RequireLeader,
		Format:         c.Format,
		MetadataFormat: c.MetadataFormat,
		AwaitTimeout:   c.AwaitTimeout,
	}
}

// ConfigureLogging sends logs to files in LogDir when one is set.
func (c Config) ConfigureLogging() error {
	if c.LogDir == "" {
		return nil
	}
	handler, err := sbragi.NewHandlerInFolder(c.LogDir)
	if err != nil {
		return err
	}
	handler.MakeDefault()
	logger, err := sbragi.NewLogger(&handler)
	if err != nil {
		return err
	}
	logger.SetDefault()
	return nil
}
