/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/midnight-artisan/artisan"
	"github.com/midnight-artisan/artisan/database"
)

func migrateCommands(a *artisanInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run artisan database migrations",
	}

	cmd.AddCommand(migrateCommand(a, "up", migrate.Up))
	cmd.AddCommand(migrateCommand(a, "down", migrate.Down))

	return cmd
}

// migrateCommand applies the embedded migrations in direction inside the artisan schema.
func migrateCommand(a *artisanInstance, use string, direction migrate.MigrationDirection) *cobra.Command {
	return &cobra.Command{
		Use: use,
		Run: func(cmd *cobra.Command, args []string) {
			migrations := migrate.EmbedFileSystemMigrationSource{
				FileSystem: artisan.SQLFiles,
				Root:       "sql",
			}

			db, err := database.ConnectDB(a.cnf.DataSource.Dns)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			migrate.SetSchema("artisan")

			n, err := migrate.Exec(db, "postgres", migrations, direction)
			if err != nil {
				log.Printf("Error migrating %s: %v", use, err)
				return
			}
			if direction == migrate.Up {
				fmt.Printf("Applied %d migrations!\n", n)
			} else {
				fmt.Printf("Rolled back %d migrations!\n", n)
			}
		},
	}
}
