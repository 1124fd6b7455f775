package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env         string
	Port        int
	DatabaseURL string
	RedisAddr   string
	RedisDB     int
	JWTSecret   string
	LogJSON     bool

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeBaseURL       string

	PayPalClientID string
	PayPalSecret   string
	PayPalBaseURL  string

	WechatAppID        string
	WechatMchID        string
	WechatMchSerial    string
	WechatPrivateKey   string
	WechatAPIv3Key     string
	WechatPlatformCert string

	EmailAPIKey  string
	EmailBaseURL string
	EmailFrom    string
	EmailMock    bool

	KafkaBrokers []string
	OrderTopic   string

	VerifyTimeout time.Duration
	TxTimeout     time.Duration

	RateWindow   time.Duration
	RateAuth     int
	RateAPI      int
	RateWebhook  int
	RateUseRedis bool

	WorkerConcurrency int
	WorkerInProcess   bool
}

func Default() Config {
	return Config{
		Env:               "dev",
		Port:              5000,
		DatabaseURL:       "",
		RedisAddr:         "127.0.0.1:6379",
		LogJSON:           true,
		StripeBaseURL:     "https://api.stripe.com",
		PayPalBaseURL:     "https://api-m.paypal.com",
		EmailBaseURL:      "https://api.resend.com",
		EmailFrom:         "orders@example.com",
		EmailMock:         true,
		OrderTopic:        "order.committed",
		VerifyTimeout:     10 * time.Second,
		TxTimeout:         5 * time.Second,
		RateWindow:        time.Minute,
		RateAuth:          5,
		RateAPI:           100,
		RateWebhook:       50,
		RateUseRedis:      true,
		WorkerConcurrency: 5,
		WorkerInProcess:   true,
	}
}

func EnvDefaults() Config {
	return fromEnv(Default())
}

func fromEnv(c Config) Config {
	if v := os.Getenv("CHECKOUT_ENV"); v != "" {
		c.Env = v
	}
	c.Port = envInt("CHECKOUT_PORT", c.Port)
	if v := os.Getenv("CHECKOUT_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("CHECKOUT_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	c.RedisDB = envInt("CHECKOUT_REDIS_DB", c.RedisDB)
	if v := os.Getenv("CHECKOUT_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	c.LogJSON = envBool("CHECKOUT_LOG_JSON", c.LogJSON)

	if v := os.Getenv("CHECKOUT_STRIPE_SECRET_KEY"); v != "" {
		c.StripeSecretKey = v
	}
	if v := os.Getenv("CHECKOUT_STRIPE_WEBHOOK_SECRET"); v != "" {
		c.StripeWebhookSecret = v
	}
	if v := os.Getenv("CHECKOUT_STRIPE_BASE_URL"); v != "" {
		c.StripeBaseURL = v
	}
	if v := os.Getenv("CHECKOUT_PAYPAL_CLIENT_ID"); v != "" {
		c.PayPalClientID = v
	}
	if v := os.Getenv("CHECKOUT_PAYPAL_SECRET"); v != "" {
		c.PayPalSecret = v
	}
	if v := os.Getenv("CHECKOUT_PAYPAL_BASE_URL"); v != "" {
		c.PayPalBaseURL = v
	}
	if v := os.Getenv("CHECKOUT_WECHAT_APP_ID"); v != "" {
		c.WechatAppID = v
	}
	if v := os.Getenv("CHECKOUT_WECHAT_MCH_ID"); v != "" {
		c.WechatMchID = v
	}
	if v := os.Getenv("CHECKOUT_WECHAT_MCH_SERIAL"); v != "" {
		c.WechatMchSerial = v
	}
	if v := os.Getenv("CHECKOUT_WECHAT_PRIVATE_KEY"); v != "" {
		c.WechatPrivateKey = v
	}
	if v := os.Getenv("CHECKOUT_WECHAT_APIV3_KEY"); v != "" {
		c.WechatAPIv3Key = v
	}
	if v := os.Getenv("CHECKOUT_WECHAT_PLATFORM_CERT"); v != "" {
		c.WechatPlatformCert = v
	}

	if v := os.Getenv("CHECKOUT_EMAIL_API_KEY"); v != "" {
		c.EmailAPIKey = v
		c.EmailMock = false
	}
	if v := os.Getenv("CHECKOUT_EMAIL_BASE_URL"); v != "" {
		c.EmailBaseURL = v
	}
	if v := os.Getenv("CHECKOUT_EMAIL_FROM"); v != "" {
		c.EmailFrom = v
	}
	c.EmailMock = envBool("CHECKOUT_EMAIL_MOCK", c.EmailMock)

	if v := os.Getenv("CHECKOUT_KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("CHECKOUT_ORDER_TOPIC"); v != "" {
		c.OrderTopic = v
	}

	c.VerifyTimeout = envDuration("CHECKOUT_VERIFY_TIMEOUT", c.VerifyTimeout)
	c.TxTimeout = envDuration("CHECKOUT_TX_TIMEOUT", c.TxTimeout)

	c.RateWindow = envDuration("CHECKOUT_RATE_WINDOW", c.RateWindow)
	c.RateAuth = envInt("CHECKOUT_RATE_AUTH", c.RateAuth)
	c.RateAPI = envInt("CHECKOUT_RATE_API", c.RateAPI)
	c.RateWebhook = envInt("CHECKOUT_RATE_WEBHOOK", c.RateWebhook)
	c.RateUseRedis = envBool("CHECKOUT_RATE_REDIS", c.RateUseRedis)

	c.WorkerConcurrency = envInt("CHECKOUT_WORKER_CONCURRENCY", c.WorkerConcurrency)
	c.WorkerInProcess = envBool("CHECKOUT_WORKER_INPROC", c.WorkerInProcess)
	return c
}

func envInt(key string, d int) int {
	if v := os.Getenv(key); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			return p
		}
	}
	return d
}

func envBool(key string, d bool) bool {
	switch os.Getenv(key) {
	case "1", "true", "TRUE":
		return true
	case "0", "false", "FALSE":
		return false
	}
	return d
}

// envDuration accepts Go duration strings ("750ms", "2m") or a bare number of seconds.
func envDuration(key string, d time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if p, err := time.ParseDuration(v); err == nil {
		return p
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
