package commands

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"multicam/internal/capture"
	"multicam/internal/config"
	"multicam/internal/logger"
)

var snapCmd = &cobra.Command{
	Use:   "snap",
	Short: "Capture one synchronized snapshot from all cameras",
	Long: `Capture a single batch of frames, one per configured camera, and
write them out as PNG files.

All cameras are read concurrently; the batch completes when the slowest
camera has delivered its frame. If any camera fails, the whole snapshot
fails and nothing is written.`,
	Example: `  # Snapshot into the current directory
  multicam snap

  # Snapshot into a specific directory
  multicam snap --output /tmp/frames

  # One combined image instead of one file per camera
  multicam snap --combined

  # Give up if any camera stalls for more than 2 seconds
  multicam snap --timeout 2s`,
	RunE: runSnap,
}

var (
	snapOutput   string
	snapCombined bool
	snapTimeout  time.Duration
)

func init() {
	rootCmd.AddCommand(snapCmd)

	snapCmd.Flags().StringVarP(&snapOutput, "output", "o", ".", "output directory")
	snapCmd.Flags().BoolVar(&snapCombined, "combined", false, "write one vertically stacked image instead of per-camera files")
	snapCmd.Flags().DurationVar(&snapTimeout, "timeout", 0, "per-snapshot timeout (0 waits forever)")
}

func runSnap(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if viper.IsSet("log_level") && viper.GetString("log_level") != "" {
		configMgr.SetLogLevel(viper.GetString("log_level"))
	}
	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, true)

	sys, stop, err := buildSystem(cfg)
	if err != nil {
		return fmt.Errorf("failed to start cameras: %w", err)
	}
	defer stop()

	ctx := context.Background()
	if snapTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, snapTimeout)
		defer cancel()
	}

	set, err := sys.BatchRead(ctx)
	if err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}

	if err := os.MkdirAll(snapOutput, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if snapCombined {
		path := filepath.Join(snapOutput, "snapshot.png")
		img := image.NewNRGBA(image.Rect(0, 0, set.Width, set.Height*set.Cameras))
		for i := 0; i < set.Cameras; i++ {
			copyFrame(img, set.Frame(i), i*set.Height)
		}
		if err := writePNG(path, img); err != nil {
			return err
		}
		fmt.Printf("Wrote %s (%d cameras, %dx%d each)\n", path, set.Cameras, set.Width, set.Height)
		return nil
	}

	for i := 0; i < set.Cameras; i++ {
		path := filepath.Join(snapOutput, fmt.Sprintf("camera_%d.png", i))
		img := image.NewNRGBA(image.Rect(0, 0, set.Width, set.Height))
		copyFrame(img, set.Frame(i), 0)
		if err := writePNG(path, img); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
	}
	return nil
}

// copyFrame copies a packed RGB frame into img starting at row yOff.
func copyFrame(img *image.NRGBA, f capture.Frame, yOff int) {
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			src := (y*f.Width + x) * 3
			dst := img.PixOffset(x, yOff+y)
			img.Pix[dst+0] = f.Data[src+0]
			img.Pix[dst+1] = f.Data[src+1]
			img.Pix[dst+2] = f.Data[src+2]
			img.Pix[dst+3] = 0xff
		}
	}
}

func writePNG(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}
