// Command antigravity-gateway runs the translating API gateway: OpenAI,
// Anthropic, and Google-native chat surfaces in front of the Antigravity
// upstream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/kestrel-labs/antigravity-gateway/internal/account"
	"github.com/kestrel-labs/antigravity-gateway/internal/api"
	"github.com/kestrel-labs/antigravity-gateway/internal/config"
	"github.com/kestrel-labs/antigravity-gateway/internal/fallback"
	"github.com/kestrel-labs/antigravity-gateway/internal/gateway"
	"github.com/kestrel-labs/antigravity-gateway/internal/logging"
	"github.com/kestrel-labs/antigravity-gateway/internal/metrics"
	"github.com/kestrel-labs/antigravity-gateway/internal/ratelimit"
	"github.com/kestrel-labs/antigravity-gateway/internal/sigcache"
	"github.com/kestrel-labs/antigravity-gateway/internal/upstream"
)

const version = "1.0.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "serve"
	if len(args) > 0 && !isFlag(args[0]) {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		if err := serve(args); err != nil {
			log.WithError(err).Error("gateway exited")
			return 1
		}
		return 0
	case "version":
		fmt.Println("antigravity-gateway " + version)
		return 0
	case "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n\n", cmd)
		usage()
		return 1
	}
}

func isFlag(s string) bool { return len(s) > 0 && s[0] == '-' }

func usage() {
	fmt.Fprintln(os.Stderr, `usage: antigravity-gateway [serve|version|help] [flags]

serve flags:
  -config <path>   optional config file (yaml or json-with-comments)`)
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Debug, cfg.LogFile)

	store, err := config.NewGatewayStore(cfg.Dir)
	if err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}
	config.Watch(store.Path(), store.Reload)

	pool, err := buildPool(cfg)
	if err != nil {
		return err
	}
	config.Watch(config.CredentialsPath(cfg.Dir), func() {
		log.Info("accounts.json changed; restart to load new credentials")
	})

	m := metrics.New()
	pacer := ratelimit.NewPacer(cfg.PacerRPS, cfg.PacerBurst)
	client := upstream.New(pool, pacer, m, cfg.UpstreamBaseURLs, cfg.CooldownBase, cfg.CooldownCap)
	gw := gateway.New(cfg, store, client, sigcache.New(), fallback.NewPolicy(nil), m)

	engine := api.New(cfg, gw, pool, store, m)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("antigravity-gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return nil
}

func buildPool(cfg *config.Config) (*account.Pool, error) {
	creds, err := config.LoadCredentials(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		log.Warn("no credentials in accounts.json; every request will fail until accounts are added")
	}

	accounts := make([]*account.Account, 0, len(creds))
	for _, c := range creds {
		accounts = append(accounts, &account.Account{
			Email:        c.Email,
			Label:        c.Label,
			RefreshToken: c.RefreshToken,
			ProjectID:    c.ProjectID,
			Disabled:     c.Disabled,
		})
	}

	pool := account.NewPool(accounts, account.NewOAuthRefresher(), 2*time.Minute)

	// The pool writes runtime state (tokens, cooldowns) back through the
	// same accounts.json the credentials came from, atomically.
	fileStore := account.NewFileStore(config.CredentialsPath(cfg.Dir))
	if saved, err := fileStore.Load(); err == nil {
		account.ApplyPersisted(accounts, saved)
	} else {
		log.WithError(err).Warn("ignoring unreadable account state in accounts.json")
	}
	pool.SetStore(fileStore)

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		pool.SetBroadcaster(account.NewRedisBroadcaster(redis.NewClient(opts), "antigravity-gateway:accounts"))
		log.Info("cross-replica account broadcast enabled")
	}
	return pool, nil
}
