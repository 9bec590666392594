package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"rag-portal/internal/geo"
	"rag-portal/internal/helper"
)

var geoBand int

var geoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Inspect GeoTIFF rasters",
}

var geoMetaCmd = &cobra.Command{
	Use:   "meta [tif]",
	Short: "Print the raster metadata as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := geo.Open(args[0])
		if err != nil {
			return err
		}
		helper.PrettyPrint(cmd.OutOrStdout(), r.Meta())
		return nil
	},
}

var geoCenterCmd = &cobra.Command{
	Use:   "center [tif]",
	Short: "Print latitude and longitude of the center pixel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := geo.Open(args[0])
		if err != nil {
			return err
		}
		lat, lon, err := r.CenterCoordinates()
		if err != nil {
			return err
		}
		printLatLon(cmd, lat, lon)
		return nil
	},
}

var geoPixelCmd = &cobra.Command{
	Use:   "pixel [tif] [col] [row]",
	Short: "Print latitude and longitude of a pixel",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		px, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("column: %w", err)
		}
		py, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("row: %w", err)
		}
		r, err := geo.Open(args[0])
		if err != nil {
			return err
		}
		lat, lon, err := r.PixelCoordinates(px, py)
		if err != nil {
			return err
		}
		printLatLon(cmd, lat, lon)
		return nil
	},
}

var geoValueCmd = &cobra.Command{
	Use:   "value [tif] [lon] [lat]",
	Short: "Print the band 1 value at a coordinate",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		coords, err := parseFloats(args[1:])
		if err != nil {
			return err
		}
		r, err := geo.Open(args[0])
		if err != nil {
			return err
		}
		v, err := r.ValueAt(coords[0], coords[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatFloat(v, 'g', -1, 64))
		return nil
	},
}

var geoCropCmd = &cobra.Command{
	Use:   "crop [tif] [min-lon] [min-lat] [max-lon] [max-lat]",
	Short: "Print the band 1 window covering a bounding box",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		box, err := parseFloats(args[1:])
		if err != nil {
			return err
		}
		r, err := geo.Open(args[0])
		if err != nil {
			return err
		}
		win, err := r.CropBBox(box[0], box[1], box[2], box[3])
		if err != nil {
			return err
		}
		printGrid(cmd, win)
		return nil
	},
}

var geoBandCmd = &cobra.Command{
	Use:   "band [tif]",
	Short: "Print every value of a band",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := geo.Open(args[0])
		if err != nil {
			return err
		}
		rows, err := r.ReadBand(geoBand)
		if err != nil {
			return err
		}
		printGrid(cmd, rows)
		return nil
	},
}

func init() {
	geoBandCmd.Flags().IntVarP(&geoBand, "band", "b", 1, "band number, 1-based")
	geoCmd.AddCommand(geoMetaCmd, geoCenterCmd, geoPixelCmd, geoValueCmd, geoCropCmd, geoBandCmd)
	rootCmd.AddCommand(geoCmd)
}

func printLatLon(cmd *cobra.Command, lat, lon float64) {
	fmt.Fprintf(cmd.OutOrStdout(), "%.6f, %.6f\n", lat, lon)
}

func printGrid(cmd *cobra.Command, rows [][]float64) {
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(cells, " "))
	}
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", a, err)
		}
		out[i] = v
	}
	return out, nil
}
