// Package main provides the entry point for the cddfetch download tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/cddfetch/internal/app"
	"github.com/jobrunner/cddfetch/internal/application"
	"github.com/jobrunner/cddfetch/internal/catalog"
	"github.com/jobrunner/cddfetch/internal/config"
	"github.com/jobrunner/cddfetch/internal/domain"
	"github.com/jobrunner/cddfetch/internal/planner"
	"github.com/jobrunner/cddfetch/internal/portal"
	"github.com/jobrunner/cddfetch/internal/ports/output"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cddfetch",
	Short: "cddfetch - CDD portal tile downloader",
	Long: `cddfetch downloads LiDAR point clouds and elevation rasters from the
DGT CDD portal for an area of interest.

Features:
  - Bounding box or polygon areas of interest
  - Versioned tile catalogs with portal-backed discovery
  - Resumable runs: finished files are never downloaded twice
  - Polite sequential fetching with a fixed inter-request delay
  - Optional VRT mosaics and S3/Azure archive uploads
  - serve mode with a REST API and Prometheus metrics`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("cddfetch %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download all tiles intersecting an area of interest",
	RunE:  runFetch,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a fetch would download, without downloading",
	RunE:  runPlan,
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Build tile catalogs by sweeping the portal search endpoint",
	RunE:  runDiscover,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API server",
	RunE:  runServer,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("catalog-dir", "./catalogs", "tile catalog directory")
	rootCmd.PersistentFlags().String("session", "./session.yaml", "captured portal session file")
	rootCmd.PersistentFlags().String("output", "./downloads", "download output root")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("catalog.dir", rootCmd.PersistentFlags().Lookup("catalog-dir"))
	_ = viper.BindPFlag("session.file", rootCmd.PersistentFlags().Lookup("session"))
	_ = viper.BindPFlag("output.root", rootCmd.PersistentFlags().Lookup("output"))

	// Area-of-interest flags shared by fetch, plan and discover
	for _, cmd := range []*cobra.Command{fetchCmd, planCmd, discoverCmd} {
		cmd.Flags().String("bbox", "", "bounding box as minLon,minLat,maxLon,maxLat (WGS84)")
		cmd.Flags().String("polygon", "", "polygon as lon,lat;lon,lat;... (WGS84, implicitly closed)")
		cmd.Flags().StringSlice("collections", nil, "collection IDs (default: all known)")
	}

	// Fetch flags
	fetchCmd.Flags().Bool("mosaic", false, "build a VRT per raster collection after the run")
	fetchCmd.Flags().Bool("archive", false, "upload completed files to the archive sink")
	fetchCmd.Flags().Int("max-attempts", 3, "attempts per tile for transient failures")
	fetchCmd.Flags().Duration("delay", 5*time.Second, "courtesy delay between portal requests")
	_ = viper.BindPFlag("mosaic.enabled", fetchCmd.Flags().Lookup("mosaic"))
	_ = viper.BindPFlag("archive.enabled", fetchCmd.Flags().Lookup("archive"))
	_ = viper.BindPFlag("fetch.max_attempts", fetchCmd.Flags().Lookup("max-attempts"))
	_ = viper.BindPFlag("portal.delay", fetchCmd.Flags().Lookup("delay"))

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "server host")
	serveCmd.Flags().Int("port", 8080, "server port")
	serveCmd.Flags().Bool("tls", false, "enable TLS")
	serveCmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
	serveCmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")
	serveCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("tls.enabled", serveCmd.Flags().Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", serveCmd.Flags().Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", serveCmd.Flags().Lookup("tls-email"))
	_ = viper.BindPFlag("server.cors.allowed_origins", serveCmd.Flags().Lookup("cors"))

	rootCmd.AddCommand(fetchCmd, planCmd, discoverCmd, serveCmd, versionCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runFetch(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	aoi, err := aoiFromFlags(cmd)
	if err != nil {
		return err
	}
	collections, _ := cmd.Flags().GetStringSlice("collections")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printer := output.ProgressFunc(func(e domain.ProgressEvent) {
		line := fmt.Sprintf("[%d/%d] %s %s/%s", e.TileIndex, e.TotalTiles, e.Outcome, e.Collection, e.TileID)
		if e.Error != "" {
			line += " (" + e.Error + ")"
		}
		fmt.Println(line)
	})

	a, err := app.New(ctx, cfg, logger, printer)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Manifest.Close() }()

	plan, err := a.Planner.Plan(aoi, collections)
	if err != nil {
		return err
	}
	if plan.TotalTiles() == 0 {
		for _, cp := range plan.Collections {
			if cp.Err != nil {
				return fmt.Errorf("planning %s: %w", cp.Collection.ID, cp.Err)
			}
		}
		fmt.Println("nothing to download: no tiles intersect the area of interest")
		return nil
	}

	// Fail fast on a dead session before the first download
	if err := a.Gateway.Probe(ctx); err != nil {
		if errors.Is(err, domain.ErrAuthExpired) {
			return fmt.Errorf("portal session expired: capture a fresh session and retry")
		}
		return fmt.Errorf("probing portal session: %w", err)
	}

	runID := uuid.NewString()
	logger.Info("starting run", "run_id", runID, "tiles", plan.TotalTiles())

	summary, err := a.FetchService.Run(ctx, runID, plan, application.FetchOptions{
		MaxAttempts: cfg.Fetch.MaxAttempts,
		Mosaic:      cfg.Mosaic.Enabled,
		Archive:     cfg.Archive.Enabled,
	})
	printSummary(summary)

	switch {
	case errors.Is(err, domain.ErrAuthExpired):
		return fmt.Errorf("portal session expired mid-run: re-run after capturing a fresh session to resume")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("run canceled: re-run with the same arguments to resume")
	case err != nil:
		return err
	case summary.TotalFailed() > 0:
		return fmt.Errorf("%d tiles failed: re-run with the same arguments to retry them", summary.TotalFailed())
	case !summary.Succeeded():
		return fmt.Errorf("one or more collections could not be planned")
	}
	return nil
}

func runPlan(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	aoi, err := aoiFromFlags(cmd)
	if err != nil {
		return err
	}
	collections, _ := cmd.Flags().GetStringSlice("collections")

	index := catalog.NewIndex()
	if err := index.LoadDir(cfg.Catalog.Dir); err != nil {
		return fmt.Errorf("loading catalogs: %w", err)
	}

	p := planner.New(index, cfg.Fetch.MaxAreaKm2, logger)
	plan, err := p.Plan(aoi, collections)
	if err != nil {
		return err
	}

	fmt.Print(planner.Describe(plan))
	return nil
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	raw, _ := cmd.Flags().GetString("bbox")
	if raw == "" {
		return fmt.Errorf("discover requires --bbox for the sweep region")
	}
	region, err := parseBBox(raw)
	if err != nil {
		return err
	}
	collections, _ := cmd.Flags().GetStringSlice("collections")
	if len(collections) == 0 {
		collections = domain.KnownCollectionIDs()
	}

	session, err := portal.LoadSession(cfg.Session.File)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	gateway := portal.NewGateway(portal.Config{
		BaseURL:    cfg.Portal.BaseURL,
		SearchPath: cfg.Portal.SearchPath,
		Timeout:    cfg.Portal.Timeout,
		Delay:      cfg.Portal.Delay,
		UserAgent:  cfg.Portal.UserAgent,
	}, session, &output.NoOpMetrics{}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := catalog.NewDiscoverer(gateway, cfg.Fetch.MaxAreaKm2, logger)
	if err := d.Discover(ctx, region, collections, cfg.Catalog.Dir); err != nil {
		return fmt.Errorf("discovering tiles: %w", err)
	}

	fmt.Printf("catalogs written to %s\n", cfg.Catalog.Dir)
	return nil
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting cddfetch",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"catalog_dir", cfg.Catalog.Dir,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	a, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := a.Start(ctx); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down server")
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

// aoiFromFlags builds the area of interest from --bbox or --polygon.
func aoiFromFlags(cmd *cobra.Command) (domain.AreaOfInterest, error) {
	rawBox, _ := cmd.Flags().GetString("bbox")
	rawPoly, _ := cmd.Flags().GetString("polygon")

	switch {
	case rawBox != "" && rawPoly != "":
		return domain.AreaOfInterest{}, fmt.Errorf("--bbox and --polygon are mutually exclusive")
	case rawBox != "":
		box, err := parseBBox(rawBox)
		if err != nil {
			return domain.AreaOfInterest{}, err
		}
		return domain.AOIFromBBox(box.MinX, box.MinY, box.MaxX, box.MaxY), nil
	case rawPoly != "":
		poly, err := parsePolygon(rawPoly)
		if err != nil {
			return domain.AreaOfInterest{}, err
		}
		return domain.AOIFromPolygon(poly), nil
	default:
		return domain.AreaOfInterest{}, fmt.Errorf("an area of interest is required: use --bbox or --polygon")
	}
}

// parseBBox parses "minLon,minLat,maxLon,maxLat".
func parseBBox(raw string) (domain.BoundingBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return domain.BoundingBox{}, fmt.Errorf("bbox must have 4 comma-separated values")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.BoundingBox{}, fmt.Errorf("invalid bbox value %q", p)
		}
		vals[i] = v
	}
	return domain.BoundingBox{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]}, nil
}

// parsePolygon parses "lon,lat;lon,lat;...".
func parsePolygon(raw string) (domain.Polygon, error) {
	pairs := strings.Split(raw, ";")
	vertices := make([]domain.Point, 0, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.Split(pair, ",")
		if len(parts) != 2 {
			return domain.Polygon{}, fmt.Errorf("invalid polygon vertex %q", pair)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return domain.Polygon{}, fmt.Errorf("invalid polygon vertex %q", pair)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return domain.Polygon{}, fmt.Errorf("invalid polygon vertex %q", pair)
		}
		vertices = append(vertices, domain.Point{X: lon, Y: lat})
	}
	return domain.Polygon{Vertices: vertices}, nil
}

func printSummary(summary domain.RunSummary) {
	fmt.Println()
	for _, c := range summary.Collections {
		if c.PlanError != "" {
			fmt.Printf("%-10s plan failed: %s\n", c.Collection, c.PlanError)
			continue
		}
		fmt.Printf("%-10s planned %4d  completed %4d  skipped %4d  failed %4d\n",
			c.Collection, c.Planned, c.Completed, c.Skipped, c.Failed)
	}
	if summary.Canceled {
		fmt.Println("run canceled before completion")
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
