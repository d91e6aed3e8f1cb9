package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/redstone-dev/redstone/internal/agents"
	"github.com/redstone-dev/redstone/internal/auth"
	"github.com/redstone-dev/redstone/internal/config"
)

// loadFunc returns the effective configuration. main passes config.LoadDefault.
type loadFunc func() (*config.Config, error)

func newRootCmd(version string, load loadFunc) *cobra.Command {
	// Loads config and sets up logging once the command line has parsed.
	setup := func() (*config.Config, error) {
		cfg, err := load()
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		if err := setupLogging(cfg.Log); err != nil {
			return nil, fmt.Errorf("configuring logging: %w", err)
		}
		return cfg, nil
	}

	serveRunE := func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	}

	cmd := &cobra.Command{
		Use:          "redstone",
		Short:        "Redstone multi-agent coding assistant server",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         serveRunE,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE:  serveRunE,
	})
	cmd.AddCommand(newTokenCmd(setup))
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.Version = version
	return cmd
}

// newTokenCmd prints a signed bearer token for local use.
func newTokenCmd(setup loadFunc) *cobra.Command {
	var (
		user string
		tier string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			cfg, err := setup()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("no JWT secret configured (set REDSTONE_JWT_SECRET)")
			}
			token, err := auth.NewVerifier(cfg.Auth.JWTSecret, true).Issue(user, agents.ParseTier(tier), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User id (token subject)")
	cmd.Flags().StringVar(&tier, "tier", agents.TierDeveloper.String(), "Plan tier: free, developer, team or enterprise")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

// newConfigInitCmd writes the default configuration to disk.
func newConfigInitCmd() *cobra.Command {
	var (
		path   string
		global bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if global {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("getting home directory: %w", err)
				}
				path = filepath.Join(home, ".redstone", "config.json")
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", filepath.Join(".redstone", "config.json"), "Config file to write")
	cmd.Flags().BoolVar(&global, "global", false, "Write ~/.redstone/config.json instead")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
