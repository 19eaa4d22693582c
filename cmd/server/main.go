// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/oldtown/citadel/internal/auth"
	"github.com/oldtown/citadel/internal/cache"
	"github.com/oldtown/citadel/internal/database"
	"github.com/oldtown/citadel/internal/handlers"
	"github.com/oldtown/citadel/internal/middleware"
	"github.com/oldtown/citadel/internal/nodes"
)

func main() {
	auth.Init()
	database.ConnectDB()
	if err := cache.ConnectRedis(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	srv := handlers.NewLobbyServer(logger, &nodes.RedisBus{Rdb: cache.Rdb})

	// Worker nodes announce themselves and report game lifecycle over redis.
	feed := &nodes.Feed{
		Rdb:          cache.Rdb,
		Manager:      srv.Nodes,
		Logger:       logger,
		OnGameClosed: srv.HandleGameClosed,
	}
	go func() {
		if err := feed.Run(context.Background()); err != nil {
			log.Fatalf("fleet feed exited: %v", err)
		}
	}()

	mux := http.NewServeMux()

	// user endpoints
	mux.HandleFunc("/user/create", handlers.CreateUserHandler)
	mux.HandleFunc("/user/login", handlers.LoginHandler)
	mux.HandleFunc("/user/block", srv.BlockUserHandler)
	mux.HandleFunc("/user/unblock", srv.UnblockUserHandler)

	// lobby endpoints
	mux.Handle("/games", middleware.LogMiddleware(logger)(http.HandlerFunc(
		srv.ListGamesHandler,
	)))
	mux.Handle("/nodes", middleware.LogMiddleware(logger)(http.HandlerFunc(
		srv.ListNodesHandler,
	)))

	// lobby ws
	mux.Handle("/lobby/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.LobbyWSHandler(logger, srv),
	)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
