package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garnizeh/initiatives/internal/repository/sqlite"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Import a users fixture (the embedded one when --file is empty)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		conn, err := openDB(ctx, cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		path := seedFile
		if path == "" {
			path = seedEmbedded
		}
		res, err := runSeed(ctx, sqlite.New(conn, logger), path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d users (%d already present, %d participations)\n", res.Created, res.Skipped, res.Participations)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "users JSON fixture")
	rootCmd.AddCommand(seedCmd)
}
