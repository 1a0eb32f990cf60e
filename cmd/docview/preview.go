package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docview/internal/document"
	"github.com/dgallion1/docview/internal/preview"
	"github.com/dgallion1/docview/internal/source"
	"github.com/spf13/cobra"
)

var (
	previewRemote string
	previewOffset float64
	previewJSON   bool
)

var previewCmd = &cobra.Command{
	Use:   "preview [file]",
	Short: "Render the pages of a document around a scroll offset",
	Long: `Decodes a local file, or a stored document with --remote, and renders the
window of pages visible at --offset. PDF pages are printed as text rows; DOCX
files are printed as HTML.

Examples:
  docview preview report.pdf
  docview preview report.pdf --offset 2300
  docview preview --remote 42 --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().StringVar(&previewRemote, "remote", "", "stored document id to preview")
	previewCmd.Flags().Float64Var(&previewOffset, "offset", 0, "vertical scroll offset in pixels")
	previewCmd.Flags().BoolVar(&previewJSON, "json", false, "output status and pages as JSON")
	rootCmd.AddCommand(previewCmd)
}

func previewSource(args []string) (source.RenderSource, error) {
	switch {
	case previewRemote != "" && len(args) > 0:
		return source.RenderSource{}, errors.New("give either a file or --remote, not both")
	case previewRemote != "":
		return source.Remote(previewRemote), nil
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return source.RenderSource{}, fmt.Errorf("read %s: %w", args[0], err)
		}
		return source.Blob(filepath.Base(args[0]), data), nil
	}
	return source.RenderSource{}, errors.New("a file or --remote is required")
}

func runPreview(cmd *cobra.Command, args []string) error {
	src, err := previewSource(args)
	if err != nil {
		return err
	}

	client := newClient()
	defer client.Close()
	viewer := newViewer(client)
	defer viewer.Close()

	ctx := cmd.Context()
	st, err := viewer.Load(ctx, src)
	if err != nil {
		if st.Mode == preview.ModeUnavailable {
			cmd.PrintErrln("No preview available.")
		}
		return err
	}

	var pages []document.Surface
	if st.Mode == preview.ModePaginated {
		if pages, err = viewer.Scroll(ctx, previewOffset); err != nil {
			return fmt.Errorf("render: %w", err)
		}
		st = viewer.Status()
	}

	if previewJSON {
		data, err := json.MarshalIndent(map[string]any{"preview": st, "pages": pages}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal preview: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if out, ok := viewer.DocxHTML(); ok {
		cmd.Println(out)
		return nil
	}

	cmd.Printf("%s: %d pages, showing %d-%d\n", st.Source, st.TotalPages, st.Window.Start, st.Window.End)
	for _, p := range pages {
		cmd.Printf("\n--- page %d (%.0fx%.0f, scale %.2f) ---\n", p.Page, p.Width, p.Height, p.Scale)
		cmd.Println(strings.Join(p.Lines, "\n"))
	}
	return nil
}
