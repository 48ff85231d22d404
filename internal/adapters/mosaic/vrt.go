// Package mosaic builds per-collection raster mosaics by invoking an
// external GDAL command.
package mosaic

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/jobrunner/cddfetch/internal/domain"
)

// DefaultCommand is the command template used when none is configured.
// {output} and {inputs} are replaced with the mosaic destination and the
// downloaded raster files.
const DefaultCommand = "gdalbuildvrt {output} {inputs}"

// Builder implements the Mosaicker port by shelling out to a GDAL tool.
// Raster parsing never happens in-process.
type Builder struct {
	template []string
	logger   *slog.Logger
	timeout  time.Duration
}

// NewBuilder parses the command template. The template must contain the
// {output} and {inputs} placeholders.
func NewBuilder(command string, logger *slog.Logger) (*Builder, error) {
	if command == "" {
		command = DefaultCommand
	}

	words, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("invalid mosaic command: %w", err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("empty mosaic command")
	}

	hasOutput, hasInputs := false, false
	for _, w := range words {
		switch w {
		case "{output}":
			hasOutput = true
		case "{inputs}":
			hasInputs = true
		}
	}
	if !hasOutput || !hasInputs {
		return nil, fmt.Errorf("mosaic command must contain {output} and {inputs} placeholders")
	}

	return &Builder{
		template: words,
		logger:   logger,
		timeout:  10 * time.Minute,
	}, nil
}

// BuildMosaic implements output.Mosaicker.
func (b *Builder) BuildMosaic(ctx context.Context, col domain.Collection, inputs []string, outputPath string) error {
	if !col.Raster {
		return fmt.Errorf("collection %s is not a raster collection", col.ID)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no input files for mosaic %s", outputPath)
	}

	args := b.expand(inputs, outputPath)

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	b.logger.Info("building mosaic",
		"collection", col.ID,
		"output", outputPath,
		"inputs", len(inputs),
	)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mosaic command failed: %w: %s", err, truncate(out, 512))
	}

	return nil
}

// expand substitutes the placeholders in the parsed template. The {inputs}
// word expands to one argument per file.
func (b *Builder) expand(inputs []string, outputPath string) []string {
	args := make([]string, 0, len(b.template)+len(inputs))
	for _, w := range b.template {
		switch w {
		case "{output}":
			args = append(args, outputPath)
		case "{inputs}":
			args = append(args, inputs...)
		default:
			args = append(args, w)
		}
	}
	return args
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
