package main

import (
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/asakaida/customattrs/internal/infrastructure/config"
	"github.com/asakaida/customattrs/internal/infrastructure/database"
	"github.com/asakaida/customattrs/internal/services/validation"
	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
)

var (
	envFlag  string
	pathFlag string
	pg       *database.Postgres
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool for customattrs",
	Long: `Database migration tool for customattrs.
Manages the attribute_types and instance_attributes tables using golang-migrate.
Migrations compiled into the binary are used unless --path is given.`,
	PersistentPreRun:  setupDatabase,
	PersistentPostRun: closeDatabase,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Long:  `Apply all pending migrations to the database.`,
	Run:   runUp,
}

var downCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Rollback migrations",
	Long:  `Rollback the specified number of migrations (default: 1).`,
	Args:  cobra.MaximumNArgs(1),
	Run:   runDown,
}

var gotoCmd = &cobra.Command{
	Use:   "goto <version>",
	Short: "Migrate to a specific version",
	Long:  `Migrate to a specific version number.`,
	Args:  cobra.ExactArgs(1),
	Run:   runGoto,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show current migration version",
	Long:  `Display the current migration version of the database.`,
	Run:   runVersion,
}

var forceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Force set migration version (use with caution)",
	Long:  `Force set the migration version without running migrations. Use with caution.`,
	Args:  cobra.ExactArgs(1),
	Run:   runForce,
}

var formatsCmd = &cobra.Command{
	Use:   "check-formats <file>",
	Short: "Validate a custom format catalogue",
	Long: `Parse a YAML format catalogue and compile every rule, without touching the database.
Use it before pointing FORMATS_FILE at a new catalogue.`,
	Args: cobra.ExactArgs(1),
	// no database needed
	PersistentPreRun:  func(*cobra.Command, []string) {},
	PersistentPostRun: func(*cobra.Command, []string) {},
	Run:               runCheckFormats,
}

func init() {
	// Add global flags to all commands
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "e", "dev", "Environment to use (dev, test, prod)")
	rootCmd.PersistentFlags().StringVarP(&pathFlag, "path", "p", "", "Directory of migration files (default: embedded migrations)")

	// Add subcommands
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(gotoCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(forceCmd)
	rootCmd.AddCommand(formatsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to execute command: %v", err)
	}
}

func setupDatabase(cmd *cobra.Command, args []string) {
	log.Printf("Using environment: %s", envFlag)

	// Initialize configuration from .env.{env} file
	if err := config.InitConfig(envFlag); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	pg, err = database.NewPostgres(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Printf("Connected to database: %s@%s:%d/%s",
		cfg.Database.User,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database)
}

func closeDatabase(cmd *cobra.Command, args []string) {
	if pg == nil {
		return
	}
	if err := pg.Close(); err != nil {
		log.Printf("Error closing database connection: %v", err)
	}
}

func newMigrate() *migrate.Migrate {
	if pathFlag != "" {
		log.Printf("Using migrations path: %s", pathFlag)
	}
	m, err := pg.NewMigrate(pathFlag)
	if err != nil {
		log.Fatalf("Failed to create migrate instance: %v", err)
	}
	return m
}

func parseVersion(arg string) uint {
	version, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		log.Fatalf("Invalid version %q: %v", arg, err)
	}
	return uint(version)
}

func runUp(cmd *cobra.Command, args []string) {
	m := newMigrate()
	defer m.Close()

	err := m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("No migrations to apply")
	case err != nil:
		log.Fatalf("Migration up failed: %v", err)
	default:
		log.Println("Migration up completed successfully")
	}
}

func runDown(cmd *cobra.Command, args []string) {
	steps := 1 // Default: rollback 1 migration
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			log.Fatalf("Invalid number of steps %q", args[0])
		}
		steps = n
	}

	m := newMigrate()
	defer m.Close()

	err := m.Steps(-steps)
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("No migrations to rollback")
	case err != nil:
		log.Fatalf("Migration down failed: %v", err)
	default:
		log.Printf("Migration down completed successfully (rolled back %d migration(s))", steps)
	}
}

func runGoto(cmd *cobra.Command, args []string) {
	version := parseVersion(args[0])

	m := newMigrate()
	defer m.Close()

	err := m.Migrate(version)
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Printf("Already at version %d", version)
	case err != nil:
		log.Fatalf("Migration goto failed: %v", err)
	default:
		log.Printf("Migration goto %d completed successfully", version)
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	m := newMigrate()
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Println("Current version: No migrations applied yet")
		return
	}
	if err != nil {
		log.Fatalf("Failed to get version: %v", err)
	}

	if dirty {
		log.Printf("Current version: %d (dirty - migration may have failed)", version)
	} else {
		log.Printf("Current version: %d", version)
	}
}

func runForce(cmd *cobra.Command, args []string) {
	version, err := strconv.Atoi(args[0])
	if err != nil {
		log.Fatalf("Invalid version %q: %v", args[0], err)
	}

	m := newMigrate()
	defer m.Close()

	if err := m.Force(version); err != nil {
		log.Fatalf("Migration force failed: %v", err)
	}

	log.Printf("Migration forced to version %d", version)
}

func runCheckFormats(cmd *cobra.Command, args []string) {
	v, err := validation.NewValidator()
	if err != nil {
		log.Fatalf("Failed to create validator: %v", err)
	}

	n, err := validation.LoadFormats(v, args[0])
	if err != nil {
		log.Fatalf("Format catalogue is invalid: %v", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d custom format(s) OK: %v\n", n, v.Formats())
}
