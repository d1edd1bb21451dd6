package main

import (
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/orbitpay/payment-gateway/internal/config"
	"github.com/orbitpay/payment-gateway/internal/events"
	"github.com/orbitpay/payment-gateway/internal/fraud"
	"github.com/orbitpay/payment-gateway/internal/gateways"
	"github.com/orbitpay/payment-gateway/internal/handlers"
	"github.com/orbitpay/payment-gateway/internal/repository"
	"github.com/orbitpay/payment-gateway/internal/services"
	xhttp "github.com/orbitpay/payment-gateway/pkg/http"
	"github.com/orbitpay/payment-gateway/pkg/logger"
	"github.com/orbitpay/payment-gateway/pkg/pg"
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

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 30))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
		SSLMode:  config.Get().PostgresSSLMode,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
		SSLMode:  config.Get().PostgresSSLMode,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
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

	stream, err := events.NewStream(redisAdap, events.StreamConfig{
		Name:          config.Get().EventStreamName,
		ConsumerGroup: config.Get().EventConsumerGroup,
		MaxLen:        config.Get().EventStreamMaxLen,
		EnableDLQ:     config.Get().EventEnableDeadLetter,
	})
	if err != nil {
		logger.Error("failed creating event stream", "error", err)
		return
	}
	publisher := events.NewStreamPublisher(stream)

	gatewayClient, err := gateways.NewHTTPClient(&gateways.Config{
		BaseURL:    config.Get().GatewayBaseUrl,
		Timeout:    config.Get().GatewayTimeout,
		MaxRetries: config.Get().GatewayMaxRetries,
		RetryDelay: config.Get().GatewayRetryDelay,
	})
	if err != nil {
		logger.Error("failed to create gateway client", "error", err)
		return
	}

	fraudConfig := fraud.DefaultRuleConfig()
	if v := config.Get().FraudBlockScore; v > 0 {
		fraudConfig.BlockScore = v
	}
	if v := config.Get().FraudLargeAmount; v > 0 {
		fraudConfig.LargeAmount = v
	}
	if v := config.Get().FraudVeryLargeAmount; v > 0 {
		fraudConfig.VeryLargeAmount = v
	}
	if v := config.Get().FraudRequireCustomerOver; v > 0 {
		fraudConfig.RequireCustomerOver = v
	}
	fraudGate := fraud.NewRuleEvaluator(fraudConfig)

	transactionRepo := repository.NewTransactionRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	methodRepo := repository.NewPaymentMethodRepository(db)

	// services
	paymentService := services.NewPaymentService(
		transactionRepo,
		customerRepo,
		methodRepo,
		db,
		fraudGate,
		gatewayClient,
		publisher,
		services.PaymentServiceConfig{
			GatewayTimeout: config.Get().GatewayTimeout,
			FraudTimeout:   config.Get().FraudTimeout,
		},
	)
	healthService := services.NewHealthService(db, redisAdap)

	// v1 handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterPaymentRoutes(g, paymentHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	hostname, _ := os.Hostname()
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
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
