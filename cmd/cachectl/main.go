// cachectl inspects and manipulates a cache store from the command
// line: get, set, delete and clear against whichever backend the
// configuration selects.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentuity/go-cacher/cacher"
	"github.com/agentuity/go-cacher/config"
)

var (
	configPath string
	ttlFlag    time.Duration
	namespace  string
)

func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.FromYAML(configPath)
	}
	return config.FromEnv()
}

func openCache(ctx context.Context) (*cacher.Cache, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cacher.New(ctx, cfg)
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:           "cachectl",
		Short:         "Inspect and manipulate a go-cacher store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults to CACHE_* environment)")

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Fetch a key and print its value with the remaining TTL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close(cmd.Context())

			var value json.RawMessage
			ttl, found, err := c.GetWithTTL(cmd.Context(), args[0], &value)
			if err != nil {
				return err
			}
			if !found {
				logger.Info().Str("key", args[0]).Msg("not found")
				return nil
			}
			if ttl < 0 {
				logger.Info().Str("key", args[0]).Msg("no expiry")
			} else {
				logger.Info().Str("key", args[0]).Dur("ttl", ttl).Msg("found")
			}
			fmt.Println(string(value))
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <json-value>",
		Short: "Store a JSON value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value json.RawMessage
			if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
				return fmt.Errorf("value is not valid JSON: %w", err)
			}
			c, err := openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close(cmd.Context())

			if err := c.Set(cmd.Context(), args[0], value, ttlFlag); err != nil {
				return err
			}
			logger.Info().Str("key", args[0]).Dur("ttl", ttlFlag).Msg("stored")
			return nil
		},
	}
	set.Flags().DurationVar(&ttlFlag, "ttl", 0, "time to live (0 = never expire)")

	del := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete one key within a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close(cmd.Context())

			if err := c.Delete(cmd.Context(), namespace, args[0]); err != nil {
				return err
			}
			logger.Info().Str("namespace", namespace).Str("key", args[0]).Msg("deleted")
			return nil
		},
	}
	del.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace the key lives under")

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Clear a namespace, or the whole app space when none is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close(cmd.Context())

			if err := c.Clear(cmd.Context(), namespace, ""); err != nil {
				return err
			}
			if namespace == "" {
				logger.Info().Msg("cleared app space")
			} else {
				logger.Info().Str("namespace", namespace).Msg("cleared namespace")
			}
			return nil
		},
	}
	clear.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace to clear")

	root.AddCommand(get, set, del, clear)

	if err := root.ExecuteContext(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("cachectl failed")
	}
}
