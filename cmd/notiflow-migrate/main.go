// cmd/notiflow-migrate/main.go
package main

import (
	"fmt"
	"os"

	"github.com/ignatij/notiflow/internal/config"
	internal_storage "github.com/ignatij/notiflow/internal/storage"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "notiflow-migrate"}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		connStr, _ := cmd.Flags().GetString("db")
		if connStr == "" {
			// Fallback to the config file and DB_* / NOTIFLOW_DB_* env vars if --db not provided
			envFile, _ := cmd.Flags().GetString("env")
			cfg, err := config.LoadConfig(envFile)
			if err != nil {
				fmt.Printf("Error: --db flag or a valid configuration is required: %v\n", err)
				os.Exit(1)
			}
			connStr = cfg.DSN()
		}

		source, _ := cmd.Flags().GetString("source")
		changed, err := internal_storage.Migrate(connStr, source)
		if err != nil {
			fmt.Printf("Failed to apply migrations: %v\n", err)
			os.Exit(1)
		}
		if !changed {
			fmt.Println("No new migrations")
			return
		}
		fmt.Println("Migrations applied successfully")
	},
}

func main() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().String("db", "", "Database connection string (optional if DB_* env vars are set)")
	migrateCmd.Flags().String("env", "", "Path to .env file")
	migrateCmd.Flags().String("source", internal_storage.DefaultMigrations, "Migration source URL")
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
