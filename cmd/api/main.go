package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fachschaft/api/internal/app"
	"fachschaft/api/internal/auth"
	"fachschaft/api/internal/calendar"
	"fachschaft/api/internal/config"
	"fachschaft/api/internal/export"
	"fachschaft/api/internal/files"
	"fachschaft/api/internal/gitrepo"
	"fachschaft/api/internal/logging"
	"fachschaft/api/internal/metrics"
	"fachschaft/api/internal/rbac"
	"fachschaft/api/internal/search"
	"fachschaft/api/internal/session"
	"fachschaft/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	provider := store.NewProvider(db)
	if err := provider.ApplyMigrations(ctx, cfg.MigrationsDir, logging.Component(logger, "store")); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	policy, err := rbac.ParsePolicy(cfg.Capabilities)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid capability mapping")
	}

	m := metrics.New()
	deps := app.Deps{
		Units:             app.NewUnitOfWork(provider),
		Checks:            map[string]app.Pinger{},
		Policy:            policy,
		Logger:            logger,
		SourceName:        cfg.OAuthSourceName,
		PostLoginRedirect: cfg.PostLoginRedirect,
	}

	// Login state and claim revocation live in Redis. Without it the API
	// still serves anonymous and bearer requests.
	var revoked auth.RevocationChecker
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		deps.Logins = redisStore
		deps.Checks["redis"] = redisStore
		revoked = redisStore
	} else {
		logger.Warn().Msg("REDIS_URL not set, login is disabled")
	}

	sealer, err := auth.NewSealer([]byte(cfg.CookieSecret))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid cookie secret")
	}
	oauthProvider := auth.NewOAuthProvider(auth.OAuthConfig{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		AuthURL:      cfg.OAuthAuthURL,
		TokenURL:     cfg.OAuthTokenURL,
		UserInfoURL:  cfg.OAuthUserInfoURL,
		RedirectURL:  cfg.OAuthRedirectURL,
		Scopes:       cfg.OAuthScopes,
		Timeout:      cfg.UpstreamTimeout,
	})
	deps.OAuth = oauthProvider
	deps.Resolver = auth.NewResolver(oauthProvider, sealer, revoked, auth.ResolverConfig{
		Secret:   []byte(cfg.CookieSecret),
		Timeout:  cfg.UpstreamTimeout,
		Insecure: cfg.InsecureCookies,
	}, logging.Component(logger, "auth"))

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logging.Component(logger, "search"))
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewPgFTS(db), logging.Component(logger, "search"))
	deps.Search = searchService
	if meili != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		fileStore, err := files.NewMinioStore(ctx, files.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("attachment storage unavailable")
		}
		deps.Files = fileStore
		deps.Checks["storage"] = fileStore
	} else {
		logger.Warn().Msg("MINIO_ENDPOINT not set, attachments are disabled")
	}

	sources := make([]calendar.Source, 0, len(cfg.Calendars))
	for _, c := range cfg.Calendars {
		sources = append(sources, calendar.Source{Name: c.Name, URL: c.URL, TTL: c.TTL})
	}
	calendars := calendar.NewService(sources, cfg.UpstreamTimeout, logging.Component(logger, "calendar"), calendar.WithMetrics(m))
	deps.Calendar = calendars
	deps.Export = export.NewService(export.NewEngine(), calendars, export.Config{ChromePath: cfg.ChromePath, PDFTimeout: cfg.PDFTimeout}, logging.Component(logger, "export"))

	if strings.TrimSpace(cfg.TemplateRepoDir) != "" {
		if err := os.MkdirAll(cfg.TemplateRepoDir, 0o755); err != nil {
			logger.Fatal().Err(err).Msg("failed to create template repo dir")
		}
		history := gitrepo.New(cfg.TemplateRepoDir)
		if err := history.Open(); err != nil {
			logger.Fatal().Err(err).Msg("failed to open template history")
		}
		deps.History = history
	}

	service := app.New(deps)
	httpServer := app.NewHTTPServer(service, app.HTTPConfig{
		CORSOrigin:     cfg.CORSOrigin,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Metrics:        m,
		Logger:         logger,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
