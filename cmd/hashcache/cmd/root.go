package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/hashcache"
)

var rootCmd = &cobra.Command{
	Use:   "hashcache",
	Short: "Content-addressed cache CLI",
	Long:  "CLI for storing, fetching and maintaining content-addressed values in a local hashcache database.",

	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(viper.GetString("log_level"))
		if err != nil {
			return err
		}
		log.SetLevel(level)
		log.SetOutput(os.Stderr)
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ~/.config/hashcache/config.yaml)")
	flags.String("cache-dir", "", "database directory (default: ~/.local/share/hashcache)")
	flags.String("driver", "leveldb", "storage engine: leveldb, badger or memory")
	flags.String("folder", "hashes", "record collection name")
	flags.String("durability", "strict", "commit durability: strict or relaxed")
	flags.Duration("tx-timeout", 0, "transaction timeout (default 30s)")
	flags.Int("compression", 0, "zstd compression level 1-3, 0 disables")
	flags.String("log-level", "warn", "log level")
	flags.Float64("fetch-rate", 0, "max fetches per second, 0 is unlimited")
	flags.Int("fetch-attempts", 3, "attempts per fetch")
	flags.Int("concurrency", hashcache.DefaultConcurrency, "verify workers")

	for key, flag := range map[string]string{
		"cache_dir":      "cache-dir",
		"driver":         "driver",
		"folder":         "folder",
		"durability":     "durability",
		"tx_timeout":     "tx-timeout",
		"compression":    "compression",
		"log_level":      "log-level",
		"fetch_rate":     "fetch-rate",
		"fetch_attempts": "fetch-attempts",
		"concurrency":    "concurrency",
	} {
		viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("HASHCACHE")
	viper.AutomaticEnv()
	viper.SetDefault("cache_dir", hashcache.DefaultCacheDir())

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hashcache")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "hashcache")
	}
	return ".hashcache"
}

func getCacheDir() string {
	return viper.GetString("cache_dir")
}

// cacheOptions builds Cache options from flags, environment and config.
func cacheOptions() ([]hashcache.Option, error) {
	durability, err := hashcache.ParseDurability(viper.GetString("durability"))
	if err != nil {
		return nil, err
	}

	opts := []hashcache.Option{
		hashcache.WithDriver(viper.GetString("driver")),
		hashcache.WithFolder(viper.GetString("folder")),
		hashcache.WithDurability(durability),
		hashcache.WithFetchAttempts(viper.GetInt("fetch_attempts")),
		hashcache.WithConcurrency(viper.GetInt("concurrency")),
	}
	if d := viper.GetDuration("tx_timeout"); d != 0 {
		opts = append(opts, hashcache.WithTransactionTimeout(d))
	}
	if level := viper.GetInt("compression"); level > 0 {
		opts = append(opts, hashcache.WithCompression(level))
	}
	if r := viper.GetFloat64("fetch_rate"); r > 0 {
		opts = append(opts, hashcache.WithFetchRate(r, 1))
	}
	if user := viper.GetString("registry_username"); user != "" {
		opts = append(opts, hashcache.WithAuth(hashcache.StaticAuthenticator{
			Username: user,
			Password: viper.GetString("registry_password"),
		}))
	}
	return opts, nil
}

// withCache opens the configured cache, runs fn and closes it.
func withCache(ctx context.Context, fn func(*hashcache.Cache) error) (err error) {
	opts, err := cacheOptions()
	if err != nil {
		return err
	}

	c, err := hashcache.Open(ctx, getCacheDir(), opts...)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(c)
}
