package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"studio-backend/internal/studio"
)

const chatHelp = `Type a prompt to generate or refine the current image.
  /gallery          list generated images
  /select N         continue from image N
  /seed PATH        start from an image on disk
  /clear-seed       drop the seed image
  /size RATIO SIZE  set aspect ratio and size, "-" leaves it to the model
  /reset            start over
  /quit             exit`

func newChatCommand(v *viper.Viper) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Iterate on an image conversationally",
		RunE: func(cmd *cobra.Command, args []string) error {
			session := studio.NewSession("cli", newProxyClient(v), nil)
			return runChat(cmd, session, outputDir)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "studio-output", "Directory for generated images")
	return cmd
}

func runChat(cmd *cobra.Command, session *studio.Session, outputDir string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, studio.IntroText)
	fmt.Fprintln(out, chatHelp)

	// saved numbers output files across /reset so earlier images survive.
	saved := 0
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			submit(cmd, session, line, outputDir, &saved)
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, chatHelp)
		case "/gallery":
			printGallery(out, session)
		case "/select":
			selectImage(out, session, fields[1:])
		case "/seed":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: /seed PATH")
				continue
			}
			encoded, err := readImageFile(fields[1])
			if err == nil {
				err = session.UploadSeed(encoded)
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "Seed image loaded.")
		case "/clear-seed":
			session.ClearSeed()
			fmt.Fprintln(out, "Seed image cleared.")
		case "/size":
			setSize(out, session, fields[1:])
		case "/reset":
			session.Reset()
			fmt.Fprintln(out, studio.IntroText)
		default:
			fmt.Fprintf(out, "unknown command %s, try /help\n", fields[0])
		}
	}
}

func submit(cmd *cobra.Command, session *studio.Session, prompt, outputDir string, saved *int) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Generating...")

	msg, err := session.Submit(cmd.Context(), prompt)
	if err != nil {
		fmt.Fprintf(out, "error: %s\n", session.Err())
		return
	}

	n := len(session.Gallery())
	path := nextImagePath(outputDir, saved)
	if err := writeImageFile(path, msg.ImageBase64); err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "[%d] %s\nImage saved at: %s\n", n, msg.Text, path)
}

// nextImagePath returns the first image-N.png in dir that does not exist yet.
func nextImagePath(dir string, saved *int) string {
	for {
		*saved++
		path := filepath.Join(dir, fmt.Sprintf("image-%d.png", *saved))
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return path
		}
	}
}

func printGallery(out io.Writer, session *studio.Session) {
	gallery := session.Gallery()
	if len(gallery) == 0 {
		fmt.Fprintln(out, "No images yet.")
		return
	}
	var activeID string
	if active := session.ActiveImage(); active != nil {
		activeID = active.ID
	}
	for i, m := range gallery {
		marker := " "
		if m.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(out, "%s[%d] %s\n", marker, i+1, m.Text)
	}
}

func selectImage(out io.Writer, session *studio.Session, args []string) {
	gallery := session.Gallery()
	if len(args) != 1 {
		fmt.Fprintln(out, "usage: /select N")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(gallery) {
		fmt.Fprintf(out, "pick an image between 1 and %d\n", len(gallery))
		return
	}
	if err := session.SelectImage(gallery[n-1].ID); err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Continuing from image %d.\n", n)
}

func setSize(out io.Writer, session *studio.Session, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(out, "usage: /size RATIO SIZE")
		return
	}
	settings := studio.Settings{AspectRatio: args[0], ImageSize: args[1]}
	if settings.AspectRatio == "-" {
		settings.AspectRatio = ""
	}
	if settings.ImageSize == "-" {
		settings.ImageSize = ""
	}
	if err := session.SetSettings(settings); err != nil {
		fmt.Fprintf(out, "choose from %v and %v\n", studio.AspectRatios, studio.ImageSizes)
		return
	}
	fmt.Fprintf(out, "Settings: %s %s\n", args[0], args[1])
}
