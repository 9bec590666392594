package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"rag-portal/internal/estate"
	"rag-portal/internal/helper"
)

var estateCmd = &cobra.Command{
	Use:   "estate [lat] [lon]",
	Short: "Look up land information for a coordinate",
	Long: `Posts the coordinate to the configured real estate endpoint and prints
the response as JSON. The coordinate may also be given as one string copied
from Google Maps, e.g. "35.6812, 139.7671".`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runEstate,
}

func init() {
	rootCmd.AddCommand(estateCmd)
}

func runEstate(cmd *cobra.Command, args []string) error {
	if cfg.Estate.URL == "" {
		return errors.New("estate.url is not configured")
	}
	coords, err := estate.ParseCoords(strings.Join(args, ","))
	if err != nil {
		return err
	}
	client, err := estate.NewClient(cfg.Estate.URL, cfg.Estate.Key)
	if err != nil {
		return err
	}
	resp, err := client.PostEstateInfo(cmd.Context(), coords.Latitude, coords.Longitude)
	if err != nil {
		return err
	}
	helper.PrettyPrint(cmd.OutOrStdout(), resp)
	return nil
}
