package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/phemap/phemap/internal/config"
	"github.com/phemap/phemap/internal/domain/phecode"
	"github.com/phemap/phemap/internal/platform/auth"
	"github.com/phemap/phemap/internal/platform/db"
	"github.com/phemap/phemap/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "phemap-server",
		Short: "ICD-10 to PheCode mapping API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(lookupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the mapping API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required to run migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if dir == "" {
				dir = cfg.MigrationsDir
			}
			migrator := db.NewMigrator(pool, dir)

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required to check migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if dir == "" {
				dir = cfg.MigrationsDir
			}
			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	// migrate down - keep as warning
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is not supported by the built-in runner.")
			fmt.Println("The reference tables are disposable: drop them and run migrate up + seed again.")
			return nil
		},
	})

	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the phecode catalog CSVs into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			defsPath, _ := cmd.Flags().GetString("definitions")
			mapPath, _ := cmd.Flags().GetString("icd10-map")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required to seed")
			}
			if defsPath == "" {
				defsPath = cfg.PhecodeDefinitions
			}
			if mapPath == "" {
				mapPath = cfg.PhecodeICD10Map
			}

			defs, err := phecode.LoadDefinitions(defsPath)
			if err != nil {
				return err
			}
			mappings, err := phecode.LoadMappings(mapPath)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			result, err := phecode.Seed(ctx, pool, defs, mappings)
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}

			fmt.Printf("Seeded %d definition(s) and %d mapping(s).\n", result.Definitions, result.Mappings)
			return nil
		},
	}
	cmd.Flags().String("definitions", "", "Path to the phecode definitions CSV (defaults to PHECODE_DEFINITIONS)")
	cmd.Flags().String("icd10-map", "", "Path to the ICD-10 mapping CSV (defaults to PHECODE_ICD10_MAP)")
	return cmd
}

func lookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Query the catalog CSVs from the command line",
	}

	var defsPath, mapPath string
	cmd.PersistentFlags().StringVar(&defsPath, "definitions", "", "Path to the phecode definitions CSV (defaults to PHECODE_DEFINITIONS)")
	cmd.PersistentFlags().StringVar(&mapPath, "icd10-map", "", "Path to the ICD-10 mapping CSV (defaults to PHECODE_ICD10_MAP)")

	loadMapper := func() (*phecode.Mapper, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		if defsPath == "" {
			defsPath = cfg.PhecodeDefinitions
		}
		if mapPath == "" {
			mapPath = cfg.PhecodeICD10Map
		}
		return phecode.LoadMapper(defsPath, mapPath)
	}

	printJSON := func(v interface{}) error {
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "icd10 <code>",
		Short: "Show the phecodes an ICD-10 code maps to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadMapper()
			if err != nil {
				return err
			}
			phecodes := m.PhecodesForICD10(args[0])
			if phecodes == nil {
				phecodes = []string{}
			}
			return printJSON(phecode.PhecodeListResponse{ICD10: args[0], Phecodes: phecodes})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "phecode <code>",
		Short: "Show a phecode's definition and its ICD-10 codes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadMapper()
			if err != nil {
				return err
			}
			icd10 := m.ICDForPhecode(args[0])
			if icd10 == nil {
				icd10 = []string{}
			}
			out := struct {
				Phecode    string              `json:"phecode"`
				Definition *phecode.Definition `json:"definition,omitempty"`
				ICD10      []string            `json:"icd10"`
			}{Phecode: args[0], ICD10: icd10}
			if def, ok := m.Info(args[0]); ok {
				out.Definition = &def
			}
			return printJSON(out)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "exclusions <code>",
		Short: "Show the phecodes covered by a phecode's exclude range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadMapper()
			if err != nil {
				return err
			}
			exclusions := m.Exclusions(args[0])
			if exclusions == nil {
				exclusions = []string{}
			}
			return printJSON(phecode.ExclusionsResponse{Phecode: args[0], Exclusions: exclusions})
		},
	})

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		logger = logger.Level(level)
	}

	ctx := context.Background()

	// Store backend
	var (
		repo phecode.Repository
		pool *pgxpool.Pool
	)
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		repo = phecode.NewPGRepo(pool)
		logger.Info().Msg("connected to database")
	default:
		mapper, err := phecode.LoadMapper(cfg.PhecodeDefinitions, cfg.PhecodeICD10Map)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load phecode catalog")
		}
		repo = phecode.NewMemoryRepo(mapper)
		logger.Info().
			Int("definitions", mapper.DefinitionCount()).
			Int("mappings", mapper.MappingCount()).
			Msg("loaded phecode catalog")
	}

	svc := phecode.NewService(repo)
	handler := phecode.NewHandler(svc)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodHead},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Auth: bearer tokens when a secret is configured, open otherwise.
	if cfg.JWTSecret != "" {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Secret:   []byte(cfg.JWTSecret),
		}))
	} else if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	}

	// Response caching. Auth runs first, so authorized requests are never
	// served from the shared cache.
	cacheCfg := middleware.DefaultCacheConfig()
	cacheCfg.MaxAge = cfg.CacheMaxAge
	apiV1.Use(middleware.ETagMiddleware(cacheCfg))

	cacheStore := middleware.NewInMemoryCacheStore()
	cacheStore.StartCleanup(ctx, 5*time.Minute)
	apiV1.Use(middleware.ResponseCacheMiddleware(cacheStore, time.Duration(cfg.CacheMaxAge)*time.Second))

	handler.RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
