package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/messenger-client/internal/logger"
	"gopkg.in/yaml.v3"
)

// loadEnv читает .env только вне production (в контейнере/prod конфиг только из env).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		f, err := os.Open(dir + "/.env")
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		idx := strings.LastIndex(parent, "/")
		if idx <= 0 {
			return
		}
		dir = parent[:idx]
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// CacheConfig — кеш сообщений и бесед.
type CacheConfig struct {
	// Duration — окно свежести: пока с последнего обновления прошло меньше, чтения идут из кеша.
	Duration time.Duration
	// Backend: "memory" (по умолчанию) или "redis".
	Backend   string
	RedisURL  string
	Namespace string
}

// PollConfig — интервалы фоновых циклов.
type PollConfig struct {
	Messages    time.Duration
	Discussions time.Duration
	Unread      time.Duration
}

// SendConfig — очередь отправки.
type SendConfig struct {
	MaxAttempts      int
	RetryBase        time.Duration
	DeliveredDelay   time.Duration
	RefreshAfterSend time.Duration
	DuplicateWindow  time.Duration
}

// EventsConfig — подписка на события бэкенда по WebSocket. Если выключена, работает только опрос.
type EventsConfig struct {
	Enabled bool
	URL     string
}

// Config содержит настройки клиента.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
type Config struct {
	BackendURL     string
	RequestTimeout time.Duration
	AppTitle       string
	LogLevel       string

	Cache CacheConfig
	Poll  PollConfig
	Send  SendConfig

	// MarkReadDelay — задержка перед фоновой отметкой прочтения после загрузки беседы.
	MarkReadDelay time.Duration

	// UserFile — JSON-файл с записью текущего пользователя (аналог localStorage "user").
	UserFile string

	Events EventsConfig

	// MetricsAddr — адрес /metrics и /health. Если пусто, сервер метрик не поднимается.
	MetricsAddr string

	// Dev-бэкенд (services/devbackend и client -dev).
	DevBackendAddr     string
	DevSeedPath        string
	CORSAllowedOrigins string
}

// yamlConfig — промежуточная структура для парсинга YAML.
type yamlConfig struct {
	BackendURL            string `yaml:"backend_url"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	AppTitle              string `yaml:"app_title"`
	LogLevel              string `yaml:"log_level"`
	Cache                 struct {
		DurationSeconds int    `yaml:"duration_seconds"`
		Backend         string `yaml:"backend"`
		RedisURL        string `yaml:"redis_url"`
		Namespace       string `yaml:"namespace"`
	} `yaml:"cache"`
	Poll struct {
		MessagesSeconds    int `yaml:"messages_seconds"`
		DiscussionsSeconds int `yaml:"discussions_seconds"`
		UnreadSeconds      int `yaml:"unread_seconds"`
	} `yaml:"poll"`
	Send struct {
		MaxAttempts        int `yaml:"max_attempts"`
		RetryBaseMS        int `yaml:"retry_base_ms"`
		DeliveredDelayMS   int `yaml:"delivered_delay_ms"`
		RefreshAfterSendMS int `yaml:"refresh_after_send_ms"`
		DuplicateWindowMS  int `yaml:"duplicate_window_ms"`
	} `yaml:"send"`
	MarkReadDelayMS int `yaml:"mark_read_delay_ms"`
	Identity        struct {
		File string `yaml:"file"`
	} `yaml:"identity"`
	Events struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"events"`
	MetricsAddr        string `yaml:"metrics_addr"`
	DevBackendAddr     string `yaml:"dev_backend_addr"`
	DevSeedPath        string `yaml:"dev_seed_path"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
}

func defaults() yamlConfig {
	var yc yamlConfig
	yc.BackendURL = "http://localhost:3000"
	yc.RequestTimeoutSeconds = 10
	yc.AppTitle = "Messenger"
	yc.LogLevel = "info"
	yc.Cache.DurationSeconds = 10
	yc.Cache.Backend = "memory"
	yc.Cache.RedisURL = "redis://localhost:6379"
	yc.Cache.Namespace = "messenger-client"
	yc.Poll.MessagesSeconds = 10
	yc.Poll.DiscussionsSeconds = 10
	yc.Poll.UnreadSeconds = 3
	yc.Send.MaxAttempts = 3
	yc.Send.RetryBaseMS = 1000
	yc.Send.DeliveredDelayMS = 2000
	yc.Send.RefreshAfterSendMS = 500
	yc.Send.DuplicateWindowMS = 2000
	yc.MarkReadDelayMS = 100
	yc.Identity.File = "user.json"
	yc.DevBackendAddr = ":3000"
	yc.CORSAllowedOrigins = "*"
	return yc
}

// Default возвращает конфигурацию по умолчанию без чтения файлов и окружения.
func Default() *Config {
	return build(defaults(), func(_ string, v string) string { return v }, func(_ string, v int) int { return v })
}

// Load загружает конфигурацию.
// Сначала подгружаются переменные из .env (если есть), затем YAML и env (env имеет приоритет).
func Load() *Config {
	loadEnv()
	yc := defaults()

	// CONFIG_PATH, иначе config/client.yaml
	for _, path := range []string{os.Getenv("CONFIG_PATH"), "config/client.yaml"} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
			yc = defaults()
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}

	cfg := build(yc, envStr, envInt)
	if v := os.Getenv("EVENTS_ENABLED"); v != "" {
		cfg.Events.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	return cfg
}

func build(yc yamlConfig, str func(string, string) string, num func(string, int) int) *Config {
	seconds := func(key string, v, fallback int) time.Duration {
		n := num(key, v)
		if n <= 0 {
			n = fallback
		}
		return time.Duration(n) * time.Second
	}
	millis := func(key string, v, fallback int) time.Duration {
		n := num(key, v)
		if n < 0 {
			n = fallback
		}
		return time.Duration(n) * time.Millisecond
	}
	attempts := num("SEND_MAX_ATTEMPTS", yc.Send.MaxAttempts)
	if attempts <= 0 {
		attempts = 3
	}
	backendURL := strings.TrimSuffix(str("BACKEND_URL", yc.BackendURL), "/")

	return &Config{
		BackendURL:     backendURL,
		RequestTimeout: seconds("REQUEST_TIMEOUT_SECONDS", yc.RequestTimeoutSeconds, 10),
		AppTitle:       str("APP_TITLE", yc.AppTitle),
		LogLevel:       str("LOG_LEVEL", yc.LogLevel),
		Cache: CacheConfig{
			Duration:  seconds("CACHE_DURATION_SECONDS", yc.Cache.DurationSeconds, 10),
			Backend:   str("CACHE_BACKEND", yc.Cache.Backend),
			RedisURL:  str("REDIS_URL", yc.Cache.RedisURL),
			Namespace: str("CACHE_NAMESPACE", yc.Cache.Namespace),
		},
		Poll: PollConfig{
			Messages:    seconds("POLL_MESSAGES_SECONDS", yc.Poll.MessagesSeconds, 10),
			Discussions: seconds("POLL_DISCUSSIONS_SECONDS", yc.Poll.DiscussionsSeconds, 10),
			Unread:      seconds("POLL_UNREAD_SECONDS", yc.Poll.UnreadSeconds, 3),
		},
		Send: SendConfig{
			MaxAttempts:      attempts,
			RetryBase:        millis("SEND_RETRY_BASE_MS", yc.Send.RetryBaseMS, 1000),
			DeliveredDelay:   millis("SEND_DELIVERED_DELAY_MS", yc.Send.DeliveredDelayMS, 2000),
			RefreshAfterSend: millis("SEND_REFRESH_AFTER_MS", yc.Send.RefreshAfterSendMS, 500),
			DuplicateWindow:  millis("SEND_DUPLICATE_WINDOW_MS", yc.Send.DuplicateWindowMS, 2000),
		},
		MarkReadDelay: millis("MARK_READ_DELAY_MS", yc.MarkReadDelayMS, 100),
		UserFile:      str("USER_FILE", yc.Identity.File),
		Events: EventsConfig{
			Enabled: yc.Events.Enabled,
			URL:     str("EVENTS_URL", yc.Events.URL),
		},
		MetricsAddr:        str("METRICS_ADDR", yc.MetricsAddr),
		DevBackendAddr:     str("DEV_BACKEND_ADDR", yc.DevBackendAddr),
		DevSeedPath:        str("DEV_SEED_PATH", yc.DevSeedPath),
		CORSAllowedOrigins: str("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
	}
}

// EventsURL возвращает адрес подписки: явный или ws(s)://<backend>/ws.
func (c *Config) EventsURL() string {
	if c.Events.URL != "" {
		return c.Events.URL
	}
	u := c.BackendURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
