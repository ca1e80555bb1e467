package main

import (
	"context"
	"errors"
	"log"
	"net/http"

	"marketplace-chat/config"
	"marketplace-chat/internal/chat"
	"marketplace-chat/internal/credentials"
	"marketplace-chat/internal/handler"
	"marketplace-chat/internal/redis"
	"marketplace-chat/internal/restclient"
	"marketplace-chat/internal/server"
	"marketplace-chat/internal/stomp"
	"marketplace-chat/internal/websocket"
	"marketplace-chat/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	l := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	creds := credentials.Chain{
		credentials.Static(cfg.AuthToken),
		credentials.NewFileStore(cfg.TokenFile),
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	api := restclient.New(cfg.APIBaseURL, httpClient, creds, l)
	var rest chat.RESTClient = api
	if cfg.CacheEnabled {
		client, err := redis.Connect(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			l.Warnf("Conversation cache disabled: %v", err)
		} else {
			defer client.Close()
			rest = restclient.NewCached(api, redis.NewConversationCache(client, cfg.CacheTTL), creds, l)
			l.Infof("Conversation cache enabled at %s:%s", cfg.RedisHost, cfg.RedisPort)
		}
	}

	stompClient := stomp.NewClient(stomp.Config{
		URL:               cfg.WSURL,
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, l.Logger)

	manager := chat.NewManager(chat.NewStompTransport(stompClient), rest, creds, l, chat.Options{
		PageSize: cfg.PageSize,
	})
	defer func() {
		if err := manager.Close(); err != nil {
			l.Warnf("Closing chat session: %v", err)
		}
	}()

	if err := manager.Initialize(ctx); err != nil && !errors.Is(err, context.Canceled) {
		// the session stays usable; the UI can retry through /conversations/refresh
		l.Warnf("Chat initialization incomplete: %v", err)
	}

	hub := websocket.NewHub()
	go hub.Run(ctx)
	go func() {
		if err := websocket.NewChatBridge(manager, hub).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.Errorf("Event relay stopped: %v", err)
		}
	}()

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Chat:   handler.NewChatHandler(manager),
		Events: websocket.NewHandler(hub, cfg.AllowedOrigins, l),
	})
	if err := srv.Start(ctx); err != nil {
		l.Errorf("Gateway exited: %v", err)
	}
}
