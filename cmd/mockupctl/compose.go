package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/mockupflow/internal/compose"
	"github.com/dunamismax/mockupflow/internal/pipeline"
	"github.com/dunamismax/mockupflow/internal/raster"
	"github.com/spf13/cobra"
)

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Flatten design layers onto a mockup image",
	RunE:  runCompose,
}

func init() {
	composeCmd.Flags().StringP("base", "b", "", "Mockup base image (png, jpeg or webp)")
	composeCmd.Flags().StringArrayP("layer", "l", nil, "Design slot: path, path@x,y,w,h[,opacity[,rotation]] or - for empty")
	composeCmd.Flags().StringP("output", "o", "", "Output file (.png or .jpg)")
	composeCmd.Flags().String("viewport", "512x512", "Editor viewport the layer geometry refers to")
	composeCmd.Flags().IntSlice("center", nil, "Slots to centre in the viewport")
	composeCmd.Flags().StringArray("swap", nil, "Swap two slots, as i,j")
	composeCmd.Flags().IntSlice("forward", nil, "Bring slots one step forward")
	composeCmd.Flags().IntSlice("backward", nil, "Send slots one step backward")
	composeCmd.Flags().Int("enhance", 0, "Upscale factor applied after compositing (0 disables)")
	composeCmd.Flags().String("kernel", "catmullrom", "Upscale kernel (catmullrom, bilinear, lanczos, vips)")
	composeCmd.MarkFlagRequired("base")
	composeCmd.MarkFlagRequired("layer")
	composeCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(composeCmd)
}

func runCompose(cmd *cobra.Command, args []string) error {
	basePath, _ := cmd.Flags().GetString("base")
	layerFlags, _ := cmd.Flags().GetStringArray("layer")
	outputPath, _ := cmd.Flags().GetString("output")
	viewportFlag, _ := cmd.Flags().GetString("viewport")
	centerSlots, _ := cmd.Flags().GetIntSlice("center")
	swaps, _ := cmd.Flags().GetStringArray("swap")
	forward, _ := cmd.Flags().GetIntSlice("forward")
	backward, _ := cmd.Flags().GetIntSlice("backward")
	factor, _ := cmd.Flags().GetInt("enhance")
	kernel, _ := cmd.Flags().GetString("kernel")
	ctx := cmd.Context()

	viewport, err := parseViewport(viewportFlag)
	if err != nil {
		return err
	}

	base, err := decodeFile(cmd, basePath)
	if err != nil {
		return err
	}

	slots := compose.NewLayers(len(layerFlags))
	for i, flag := range layerFlags {
		spec, err := parseLayerSpec(flag)
		if err != nil {
			return err
		}
		if spec == nil {
			continue
		}
		img, err := decodeFile(cmd, spec.Path)
		if err != nil {
			return err
		}

		var t compose.LayerTransform
		if spec.Transform != nil {
			t = *spec.Transform
		} else if t, err = compose.DefaultTransform(img.Width, img.Height, viewport.Width); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		if err := slots.Set(i, &compose.Layer{Image: img, Transform: t}); err != nil {
			return err
		}
	}

	for _, slot := range centerSlots {
		if slot < 0 || slot >= len(slots) || slots[slot] == nil {
			return fmt.Errorf("center: slot %d is empty or out of range", slot)
		}
		slots[slot].Transform = compose.Center(slots[slot].Transform, viewport)
	}
	for _, swap := range swaps {
		i, j, err := parseSwap(swap)
		if err != nil {
			return err
		}
		if err := slots.Swap(i, j); err != nil {
			return err
		}
	}
	for _, slot := range forward {
		if err := slots.BringForward(slot); err != nil {
			return err
		}
	}
	for _, slot := range backward {
		if err := slots.SendBackward(slot); err != nil {
			return err
		}
	}
	if slots.Populated() == 0 {
		logger.Printf("no design layers, output is a copy of the base")
	}

	out, err := compose.Composite(ctx, compose.Request{Base: base, Layers: slots, Viewport: viewport})
	if err != nil {
		return fmt.Errorf("compositing: %w", err)
	}

	if factor > 1 {
		processor, err := pipeline.NewLocalProcessor(filepath.Dir(outputPath), pipeline.Options{Logger: logger, UpscaleKernel: kernel})
		if err != nil {
			return err
		}
		if out, err = processor.Enhance(ctx, out, factor); err != nil {
			return fmt.Errorf("enhancing: %w", err)
		}
	}

	data, err := writeRaster(outputPath, out)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Composited %d of %d slot(s) onto %dx%d base\n", slots.Populated(), len(slots), base.Width, base.Height)
	fmt.Fprintf(cmd.OutOrStdout(), "Output: %s (%dx%d, %d bytes)\n", outputPath, out.Width, out.Height, len(data))
	return nil
}

func decodeFile(cmd *cobra.Command, path string) (*raster.Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	img, err := raster.Decode(cmd.Context(), data, "")
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

func writeRaster(path string, img *raster.Raster) ([]byte, error) {
	data, err := raster.Encode(img, mimeForPath(path))
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing output: %w", err)
	}
	return data, nil
}

func mimeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return raster.MimeJPEG
	default:
		return raster.MimePNG
	}
}
