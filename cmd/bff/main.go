// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// The bff service is the backend-for-frontend of the Cuido caregiving
// marketplace. It authenticates callers against the platform's identity
// provider and proxies profile, service request, application, session and
// storage operations onto the platform's data and storage APIs.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/cuido-tech/cuido-bff/accounts"
	"github.com/cuido-tech/cuido-bff/applications"
	"github.com/cuido-tech/cuido-bff/caregivers"
	"github.com/cuido-tech/cuido-bff/core/access"
	"github.com/cuido-tech/cuido-bff/core/logger"
	"github.com/cuido-tech/cuido-bff/events"
	"github.com/cuido-tech/cuido-bff/profile"
	"github.com/cuido-tech/cuido-bff/requests"
	"github.com/cuido-tech/cuido-bff/sessions"
	"github.com/cuido-tech/cuido-bff/supabase"
	"github.com/cuido-tech/cuido-bff/uploads"
)

// Service holds the configuration for this service
type Service struct {
	Port        string `env:"PORT,default=8080" description:"the port the service listens on"`
	Environment string `env:"ENVIRONMENT,default=development" description:"deployment environment name"`
	LogLevel    string `env:"LOG_LEVEL,default=info" description:"logrus log level"`

	SupabaseURL     string        `env:"SUPABASE_URL,required" description:"the platform base URL"`
	SupabaseRestURL string        `env:"SUPABASE_REST_URL,default=" description:"the data API base URL, derived from SUPABASE_URL when empty"`
	AnonKey         string        `env:"SUPABASE_ANON_KEY,required" description:"the public api key"`
	ServiceRoleKey  string        `env:"SUPABASE_SERVICE_ROLE_KEY,required" description:"the elevated service-role key"`
	OutboundTimeout time.Duration `env:"OUTBOUND_TIMEOUT,default=5s" description:"timeout for every outbound platform call"`

	AuthMode string `env:"AUTH_MODE,default=introspect" description:"introspect or jwks"`
	JWKSURL  string `env:"SUPABASE_JWKS_URL,default=" description:"the JWKS download URL for AUTH_MODE=jwks"`

	StorageDriver supabase.StorageDriverType `env:"STORAGE_DRIVER,default=supabase" description:"supabase or s3"`
	S3            supabase.S3Configuration

	KafkaBrokers string `env:"KAFKA_BROKERS,default=" description:"comma separated brokers for the event stream, empty disables events"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=cuido.mutations" description:"the topic mutation notifications are written to"`

	CORSOrigins string `env:"CORS_ORIGINS,default=*" description:"comma separated allowed origins"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	logLevel, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.InitLogger(logLevel)

	gw := supabase.New(supabase.Config{
		BaseURL:    service.SupabaseURL,
		RestURL:    service.SupabaseRestURL,
		AnonKey:    service.AnonKey,
		ServiceKey: service.ServiceRoleKey,
		Timeout:    service.OutboundTimeout,
	})

	var verifier access.Verifier
	switch service.AuthMode {
	case "jwks":
		if service.JWKSURL == "" {
			logger.Default().Fatalln("AUTH_MODE=jwks requires SUPABASE_JWKS_URL")
		}
		verifier = access.NewJWTVerifier(&access.JWTVerifierBuilder{JWKSURL: service.JWKSURL})
	default:
		verifier = supabase.NewIntrospector(gw)
	}

	var driver supabase.StorageDriver
	switch service.StorageDriver {
	case supabase.DriverTypeAWSS3:
		driver, err = supabase.NewS3Storage(service.S3)
		if err != nil {
			logger.Default().Fatalln("cannot create S3 storage driver:", err)
		}
	default:
		driver = supabase.NewHTTPStorage(gw)
	}

	var publisher events.Publisher = events.NullPublisher{}
	if service.KafkaBrokers != "" {
		kafkaPublisher := events.NewKafkaPublisher(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)
	handleCORS(router, service.CORSOrigins)
	handleCompression(router)
	router.Use(access.NewAuthMiddleware(verifier))

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodOptions, http.MethodGet)

	accounts.New(router, gw, publisher)
	profile.New(router, gw, publisher)
	caregivers.New(router, gw, publisher)
	requests.New(router, gw, publisher)
	applications.New(router, gw, publisher)
	sessions.New(router, gw, publisher)
	uploads.New(router, gw, driver, publisher)

	server := &http.Server{
		Addr:    ":" + service.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Default().Infoln("listen on port :" + service.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Default().Fatalln("server error:", err)
		}
	}()

	<-ctx.Done()
	logger.Default().Infoln("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Default().Errorln("shutdown error:", err)
	}
}
