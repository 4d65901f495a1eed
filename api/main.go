package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"switchyard/api/audit"
	"switchyard/api/auth"
	"switchyard/api/config"
	"switchyard/api/handler"
	"switchyard/api/health"
	"switchyard/api/hub"
	"switchyard/api/model"
	"switchyard/api/orchestrator"
	"switchyard/api/provision"
	"switchyard/api/registry"
	"switchyard/api/router"
	"switchyard/api/secrets"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	ctx := context.Background()
	cfg := config.Load()
	if cfg.SecretsPath != "" {
		data, err := secrets.NewDecryptor().Load(ctx, cfg.SecretsPath)
		if err != nil {
			log.Fatalf("secrets: %v", err)
		}
		cfg = config.LoadWithSecrets(data)
		log.Printf("secrets: loaded %d key(s) from %s: %s", len(data), cfg.SecretsPath, strings.Join(secrets.Keys(data), ", "))
	}

	site, err := model.LoadSite(cfg.SitePath)
	if err != nil {
		log.Fatalf("site: %v", err)
	}
	for _, f := range model.ValidateSite(site).Findings {
		log.Printf("WARNING: site: %s: %s", f.Field, f.Message)
	}

	stores := &backends{cfg: cfg, app: site.App}
	defer stores.Close()

	regBackend, err := stores.registry()
	if err != nil {
		log.Fatalf("registry: %v", err)
	}
	reg := registry.New(regBackend)
	st, err := reg.Bootstrap(ctx, site.Addresses(), site.Initial())
	if err != nil {
		log.Fatalf("registry bootstrap: %v", err)
	}
	log.Printf("registry: %s active slot %s (%s)", site.App, st.Active.ActiveSlot, cfg.RegistryBackend)

	auditStore, err := stores.audit(ctx)
	if err != nil {
		log.Fatalf("audit: %v", err)
	}

	sw, err := router.New(site.Router, nil)
	if err != nil {
		log.Fatalf("router: %v", err)
	}
	prov, err := provision.New(site.Provisioner, provision.Options{
		App:        site.App,
		HealthPath: site.Health.Path,
		NomadAddr:  cfg.NomadAddr,
	})
	if err != nil {
		log.Fatalf("provisioner: %v", err)
	}

	ws := hub.New(cfg.Origins())
	go ws.Run()

	prober := health.NewProber()
	policy := health.PolicyFromSite(site.Health)

	orch, err := orchestrator.New(orchestrator.Config{
		App:           site.App,
		Registry:      reg,
		Prober:        prober,
		Router:        sw,
		Provisioner:   prov,
		Audit:         audit.NewLog(auditStore),
		WS:            ws,
		Policy:        policy,
		DeployTimeout: site.DeployTimeoutDuration(),
	})
	if err != nil {
		log.Fatalf("orchestrator: %v", err)
	}
	if err := orch.Reconcile(ctx); err != nil {
		log.Printf("WARNING: reconcile router with registry: %v", err)
	}

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	if !site.Watch.Disabled {
		watcher := &health.Watcher{
			App:      site.App,
			Registry: reg,
			Prober:   prober,
			WS:       ws,
			Policy:   policy,
			Schedule: site.Watch.Schedule,
		}
		go func() {
			if err := watcher.Run(watchCtx); err != nil {
				log.Printf("WARNING: health watcher: %v", err)
			}
		}()
	}

	h := handler.New(orch, site, ws, Version, stores.checks...)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	var tokens *auth.TokenValidator
	if cfg.JWTSecret != "" {
		tokens = auth.NewTokenValidator(cfg.JWTSecret, cfg.JWTIssuer)
		log.Println("scoped token auth enabled")
	}
	if cfg.APIToken != "" {
		log.Println("API token auth enabled")
	}
	r.Use(auth.Middleware(cfg.APIToken, tokens))

	h.Routes(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", ws.HandleConnect)

	srv := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("switchyard %s managing %s, listening on %s:%s", Version, site.App, cfg.BindAddr, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	watchCancel()
	// Give a running deploy the rest of its budget to finish.
	shutdownCtx, cancel := context.WithTimeout(ctx, site.DeployTimeoutDuration())
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
