package main

import (
	"fmt"
	"os"

	"github.com/dunamismax/mockupflow/internal/domain"
	"github.com/dunamismax/mockupflow/internal/generator"
	"github.com/dunamismax/mockupflow/internal/raster"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Send a flat composite to the image model for a photorealistic render",
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringP("input", "i", "", "Flat composite image")
	generateCmd.Flags().StringP("output", "o", "", "Output file (.png or .jpg)")
	generateCmd.Flags().String("intensity", string(domain.IntensityMedium), "Realism intensity (low, medium, high)")
	generateCmd.Flags().String("model", generator.DefaultModel, "Image model name")
	generateCmd.Flags().String("api-key", "", "API key (defaults to $GEMINI_API_KEY)")
	generateCmd.MarkFlagRequired("input")
	generateCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	inputPath, _ := cmd.Flags().GetString("input")
	outputPath, _ := cmd.Flags().GetString("output")
	intensityFlag, _ := cmd.Flags().GetString("intensity")
	model, _ := cmd.Flags().GetString("model")
	apiKey, _ := cmd.Flags().GetString("api-key")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}

	intensity, err := domain.ParseIntensity(intensityFlag)
	if err != nil {
		return err
	}

	composite, err := decodeFile(cmd, inputPath)
	if err != nil {
		return err
	}
	png, err := raster.Encode(composite, raster.MimePNG)
	if err != nil {
		return err
	}

	client := generator.NewClient(generator.Config{APIKey: apiKey, Model: model})
	resp, err := client.Generate(cmd.Context(), generator.Request{Image: png, MimeType: raster.MimePNG, Intensity: intensity})
	if err != nil {
		return fmt.Errorf("generating: %w", err)
	}

	out, err := raster.Decode(cmd.Context(), resp.Image, resp.MimeType)
	if err != nil {
		return fmt.Errorf("decoding generated image: %w", err)
	}
	data, err := writeRaster(outputPath, out)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Generated %dx%d mockup (intensity=%s)\n", out.Width, out.Height, intensity)
	fmt.Fprintf(cmd.OutOrStdout(), "Output: %s (%d bytes)\n", outputPath, len(data))
	return nil
}
