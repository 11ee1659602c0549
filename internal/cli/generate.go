package cli

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"studio-backend/internal/client"
	"studio-backend/internal/models"
	"studio-backend/internal/studio"
)

func newGenerateCommand(v *viper.Viper) *cobra.Command {
	var (
		prompt      string
		baseImage   string
		aspectRatio string
		imageSize   string
		output      string
	)

	cmd := &cobra.Command{
		Use:     "generate",
		Short:   "Generate a single image from a prompt",
		Example: `studio-cli generate -p "a red balloon over a city" --aspect-ratio 16:9 -o balloon.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(prompt) == "" {
				return fmt.Errorf("--prompt is required")
			}
			settings := studio.Settings{AspectRatio: aspectRatio, ImageSize: imageSize}
			if err := settings.Validate(); err != nil {
				return fmt.Errorf("%w: aspect ratios %v, sizes %v", err, studio.AspectRatios, studio.ImageSizes)
			}

			req := models.GenerateImageRequest{
				Prompt:      prompt,
				AspectRatio: aspectRatio,
				ImageSize:   imageSize,
			}
			if baseImage != "" {
				encoded, err := readImageFile(baseImage)
				if err != nil {
					return err
				}
				req.BaseImage = encoded
			}

			resp, err := newProxyClient(v).Generate(cmd.Context(), req)
			if err != nil {
				if client.IsProxyError(err) {
					return err
				}
				return fmt.Errorf("request to %s failed: %w", v.GetString("server"), err)
			}

			if err := writeImageFile(output, resp.ImageBase64); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nImage saved at: %s\n", resp.AltText, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Text prompt describing the image (required)")
	cmd.Flags().StringVar(&baseImage, "base-image", "", "Path to an image to edit instead of starting from scratch")
	cmd.Flags().StringVar(&aspectRatio, "aspect-ratio", "", "Aspect ratio hint, e.g. 16:9")
	cmd.Flags().StringVar(&imageSize, "image-size", "", "Size hint: 1K, 2K or 4K")
	cmd.Flags().StringVarP(&output, "output", "o", "output.png", "Path to save the generated image")
	return cmd
}

func readImageFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func writeImageFile(path, imageBase64 string) error {
	data, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return fmt.Errorf("server returned invalid image data: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output dir %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}
