package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/messenger-client/internal/api"
	"github.com/messenger-client/internal/config"
	"github.com/messenger-client/internal/conversation"
	"github.com/messenger-client/internal/devbackend"
	"github.com/messenger-client/internal/identity"
	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/messenger"
	"github.com/messenger-client/internal/middleware"
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/startup"
	"github.com/messenger-client/internal/storage"
	"github.com/messenger-client/internal/storage/memory"
	"github.com/messenger-client/internal/transport"
)

const help = `команды:
  /open <id> [имя]    открыть беседу с контактом
  /group <id> [имя]   открыть группу
  /close              закрыть беседу
  /list               обновить список бесед
  /filter all|unread|favorites|groups
  /search <текст>
  /fav <id>           избранное вкл/выкл
  /quit
любой другой текст отправляется в открытую беседу`

func main() {
	logger.SetPrefix("client")
	dev := flag.Bool("dev", false, "start the in-memory dev backend in-process")
	userID := flag.String("user", "", "log in as this user id (saved to the identity file)")
	flag.Parse()

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	logger.Info("starting client")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var bg sync.WaitGroup
	var servers []*http.Server

	if *dev {
		srv, err := startDevBackend(cfg, &bg)
		if err != nil {
			logger.Errorf("dev backend: %v", err)
			os.Exit(1)
		}
		servers = append(servers, srv)
	}

	ident := identity.NewFileStore(cfg.UserFile)
	if *userID != "" {
		if err := ident.Save(model.User{ID: *userID}); err != nil {
			logger.Errorf("save identity: %v", err)
			os.Exit(1)
		}
	}
	user, err := ident.Current(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "нет текущего пользователя: запустите с -user <id>")
		os.Exit(1)
	}

	store := openCacheStore(ctx, cfg)
	defer store.Close()

	view := newTerminalView(os.Stdout, user.ID)
	session := messenger.New(cfg, messenger.Deps{
		Identity: ident,
		Backend:  api.New(transport.NewClient(cfg.BackendURL, cfg.RequestTimeout)),
		Store:    store,
		View:     view,
	})

	if cfg.MetricsAddr != "" {
		servers = append(servers, startMetrics(cfg.MetricsAddr, &bg))
	}

	session.Start(ctx)
	logger.Infof("user=%s backend=%s cache=%s", user.ID, cfg.BackendURL, cfg.Cache.Backend)
	fmt.Println(help)

	lines := make(chan string)
	go readLines(lines)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok || !handleLine(ctx, session, line) {
				break loop
			}
		}
	}

	logger.Info("shutting down")
	session.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("server shutdown: %v", err)
		}
	}
	bg.Wait()
	logger.Info("client stopped")
}

func readLines(out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// handleLine выполняет одну команду. false означает выход.
func handleLine(ctx context.Context, s *messenger.Session, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	if !strings.HasPrefix(line, "/") {
		_ = s.SendText(ctx, line)
		return true
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	id, name, _ := strings.Cut(rest, " ")

	switch cmd {
	case "/quit", "/exit":
		return false
	case "/open", "/group":
		kind := model.KindContact
		if cmd == "/group" {
			kind = model.KindGroup
		}
		_ = s.SetCurrentConversation(ctx, kind, id, strings.TrimSpace(name))
	case "/close":
		s.ClearCurrentConversation()
	case "/list":
		if err := s.RefreshDiscussions(ctx); err != nil {
			fmt.Println("ошибка:", err)
		}
	case "/filter":
		f, ok := conversation.ParseFilter(rest)
		if !ok {
			fmt.Println("фильтр: all, unread, favorites, groups")
			return true
		}
		s.SetFilter(f)
	case "/search":
		s.SetSearch(rest)
	case "/fav":
		s.ToggleFavorite(id)
	default:
		fmt.Println(help)
	}
	return true
}

// openCacheStore выбирает хранилище кеша. Если Redis недоступен, кеш в памяти.
func openCacheStore(ctx context.Context, cfg *config.Config) storage.CacheStore {
	if cfg.Cache.Backend != "redis" {
		return memory.New()
	}
	client, err := startup.ConnectRedisWithRetry(ctx, cfg.Cache.RedisURL, cfg.Cache.Namespace, 10*time.Second)
	if err != nil {
		logger.Warnf("cache: %v, using in-memory cache", err)
		return memory.New()
	}
	logger.Infof("cache: redis %s", cfg.Cache.Namespace)
	return client
}

func startMetrics(addr string, wg *sync.WaitGroup) *http.Server {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Infof("metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server: %v", err)
		}
	}()
	return srv
}

// startDevBackend поднимает dev-бэкенд в процессе и направляет клиента на него.
func startDevBackend(cfg *config.Config, wg *sync.WaitGroup) (*http.Server, error) {
	seed, err := devbackend.LoadSeed(cfg.DevSeedPath)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", cfg.DevBackendAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.DevBackendAddr, err)
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := devbackend.NewHub(0)
	srv := &http.Server{
		Handler:           devbackend.NewServer(devbackend.NewStore(seed), hub, cfg.CORSAllowedOrigins).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.RegisterOnShutdown(hubCancel)

	wg.Add(2)
	go func() {
		defer wg.Done()
		hub.Run(hubCtx)
	}()
	go func() {
		defer wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("dev backend: %v", err)
		}
	}()

	_, port, _ := net.SplitHostPort(ln.Addr().String())
	cfg.BackendURL = "http://127.0.0.1:" + port
	logger.Infof("dev backend on %s", cfg.BackendURL)
	return srv, nil
}
