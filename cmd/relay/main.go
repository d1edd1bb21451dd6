package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/orbitpay/payment-gateway/internal/config"
	"github.com/orbitpay/payment-gateway/internal/relay"
	"github.com/orbitpay/payment-gateway/pkg/logger"
	"github.com/orbitpay/payment-gateway/pkg/prom"
	"github.com/orbitpay/payment-gateway/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill, os.Interrupt, syscall.SIGTERM)

	deliverer, err := relay.NewWebhookDeliverer(relay.WebhookConfig{
		URL:     config.Get().RelayWebhookUrl,
		Secret:  config.Get().RelayWebhookSecret,
		Timeout: config.Get().RelayTimeout,
	})
	if err != nil {
		logger.Error("failed to create webhook deliverer", "error", err)
		return
	}

	idempotencyConfig := relay.DefaultIdempotencyConfig()
	if v := config.Get().EventMaxRetries; v > 0 {
		idempotencyConfig.MaxRetries = v
	}
	idempotencyService := relay.NewIdempotencyService(redisAdap, idempotencyConfig)

	service, err := relay.NewRelayService(redisAdap)
	if err != nil {
		logger.Error("failed to create the relay", "error", err)
		return
	}
	service.RegisterProcessor(relay.NewEventProcessor(deliverer, idempotencyService))

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	go func() {
		err := service.Start()
		if err != nil {
			logger.Error("failed to start relay", "error", err)
		}
	}()

	select {
	case <-c:
		service.Stop()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
