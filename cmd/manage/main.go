package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"agriplan/internal/bootstrap"
	"agriplan/internal/config"
	"agriplan/internal/database"
	"agriplan/internal/logger"
	"agriplan/internal/models"
)

// app carries the connection shared by every subcommand. It is opened lazily
// in the root command's PersistentPreRunE.
type app struct {
	configPath string
	db         *database.Manager
}

func main() {
	a := &app{}
	root := newRootCmd(a)
	err := root.Execute()
	if a.db != nil {
		_ = a.db.Close()
	}
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "manage",
		Short:        "AgriPlan administration: migrations, seed data and superusers",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			config.Set(cfg)
			logger.Init(cfg.Server.Env, cfg.Log.Level)

			a.db, err = database.NewManager(cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a config file (default ./config.yaml)")

	root.AddCommand(
		newMigrateCmd(a),
		newSeedUnitsCmd(a),
		newCreateSuperuserCmd(a),
	)
	return root
}

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, revert or inspect schema migrations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.db.Migrate()
			},
		},
		&cobra.Command{
			Use:   "down [N]",
			Short: "Revert the last N migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n < 1 {
						return fmt.Errorf("invalid step count %q", args[0])
					}
					steps = n
				}
				if err := a.db.Rollback(steps); err != nil {
					return err
				}
				logger.Get().Infof("Rolled back %d migration(s)", steps)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied migration version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				version, dirty, err := a.db.Version()
				if err != nil {
					return fmt.Errorf("failed to get version: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %v)\n", version, dirty)
				return nil
			},
		},
	)
	return cmd
}

func newSeedUnitsCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed-units",
		Short: "Create the standard units, or those listed in a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seeds := bootstrap.DefaultUnits
			if file != "" {
				var err error
				if seeds, err = bootstrap.LoadUnits(file); err != nil {
					return err
				}
			}
			created, err := bootstrap.SeedUnits(a.db.DB(), seeds)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d unit(s) created, %d already present\n", created, len(seeds)-created)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML file with a units list")
	return cmd
}

func newCreateSuperuserCmd(a *app) *cobra.Command {
	var (
		in     bootstrap.SuperuserInput
		role   string
		unitID string
	)

	cmd := &cobra.Command{
		Use:   "create-superuser",
		Short: "Create an administrator, or reset an existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Role = models.Role(role)
			if unitID != "" {
				in.UnitID = &unitID
			}
			user, err := bootstrap.EnsureSuperuser(a.db.DB(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s (%s) ready with role %s\n", user.Username, user.ID, user.Profile.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Username, "username", "", "login name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email address")
	cmd.Flags().StringVar(&in.Password, "password", "", "password, at least 8 characters")
	cmd.Flags().StringVar(&role, "role", string(models.RoleSuperAdmin), "profile role")
	cmd.Flags().StringVar(&unitID, "unit-id", "", "unit to attach the profile to")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
