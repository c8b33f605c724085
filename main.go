package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"bpmn-collab/core"
	"bpmn-collab/handlers/api/session"
	"bpmn-collab/handlers/websocket"
	"bpmn-collab/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func setupRouter(s *websocket.Session) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	corsOptions := cors.Options{
		AllowedOrigins: []string{"tauri://localhost"},
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "" {
				return false
			}

			parsed, err := url.Parse(origin)
			if err != nil {
				return false
			}

			switch parsed.Scheme {
			case "http", "https":
				switch parsed.Hostname() {
				case "localhost", "127.0.0.1", "[::1]":
					return true
				}
			case "tauri":
				return parsed.Hostname() == "localhost"
			}

			return false
		},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	r.Use(cors.Handler(corsOptions))

	r.Get("/ws", websocket.HandleWS(s))

	r.Route("/api/session", func(r chi.Router) {
		r.Get("/document", session.HandleGetDocument(s))
		r.Get("/users", session.HandleGetUsers(s))
		r.Get("/locks", session.HandleGetLocks(s))
	})

	return r
}

func lockPolicyFromEnv() core.LockPolicy {
	raw := os.Getenv("LOCK_RELEASE_ON_DISCONNECT")
	if raw == "" {
		return core.ReleaseLocksOnDisconnect
	}

	release, err := strconv.ParseBool(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"value": raw,
			"error": err,
		}).Warn("Invalid LOCK_RELEASE_ON_DISCONNECT, defaulting to release")
		return core.ReleaseLocksOnDisconnect
	}
	if release {
		return core.ReleaseLocksOnDisconnect
	}
	return core.KeepLocksOnDisconnect
}

func waitForShutdown(srv *http.Server, cancel context.CancelFunc) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-signalC

	logrus.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithField("error", err).Warn("Server shutdown was not clean")
	}
}

func main() {
	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":8001", "Set the server listen address")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file loaded")
	}

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := stores.GetStore()
	room := websocket.NewRoom(ctx, store, lockPolicyFromEnv())
	sess := websocket.NewSession(room)
	go sess.Run(ctx)

	srv := &http.Server{
		Addr:    *listenAddr,
		Handler: setupRouter(sess),
	}

	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(srv, cancel)
}
