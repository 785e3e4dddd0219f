package main

import (
	"context"
	"log"

	firebase "firebase.google.com/go"
	"github.com/techagentng/clarkmarket/config"
	"github.com/techagentng/clarkmarket/db"
	"github.com/techagentng/clarkmarket/logger"
	"github.com/techagentng/clarkmarket/server"
	"github.com/techagentng/clarkmarket/services"
	"github.com/techagentng/clarkmarket/services/chat"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

func initFirebase(ctx context.Context, conf *config.Config) (*firebase.App, error) {
	var opts []option.ClientOption
	if conf.GoogleApplicationCredentials != "" {
		opts = append(opts, option.WithCredentialsFile(conf.GoogleApplicationCredentials))
	}
	return firebase.NewApp(ctx, &firebase.Config{ProjectID: conf.FirebaseProjectID}, opts...)
}

func main() {
	conf, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zl, err := logger.New(conf.Env, conf.Debug)
	if err != nil {
		log.Fatal(err)
	}
	defer zl.Sync()

	ctx := context.Background()
	app, err := initFirebase(ctx, conf)
	if err != nil {
		zl.Fatal("error initializing Firebase app", zap.Error(err))
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		zl.Fatal("error getting Auth client", zap.Error(err))
	}
	authProvider := services.NewFirebaseAuthProvider(authClient, conf.CampusEmailDomain, conf.RequireVerifiedEmail)

	var store db.DocumentStore
	switch conf.Store {
	case config.StoreFirestore:
		client, err := app.Firestore(ctx)
		if err != nil {
			zl.Fatal("error getting Firestore client", zap.Error(err))
		}
		defer client.Close()
		store = db.NewFirestoreStore(client, zl)
	case config.StorePostgres:
		gormDB, err := db.GetDB(conf)
		if err != nil {
			zl.Fatal("error connecting to postgres", zap.Error(err))
		}
		var notifier db.ChangeNotifier
		if conf.RedisAddr != "" {
			redisNotifier := db.NewRedisNotifier(conf.RedisAddr, zl)
			defer redisNotifier.Close()
			notifier = redisNotifier
		}
		store = db.NewGormStore(gormDB, notifier, conf.PollInterval, zl)
	case config.StoreMemory:
		store = db.NewMemoryStore()
	default:
		zl.Fatal("unknown store backend", zap.String("store", conf.Store))
	}

	var notifier chat.Notifier
	if conf.NotifyReceivers {
		messagingClient, err := app.Messaging(ctx)
		if err != nil {
			zl.Fatal("error getting Messaging client", zap.Error(err))
		}
		notifier = services.NewNotificationService(messagingClient, zl)
	}

	s := &server.Server{
		Config:       conf,
		AuthProvider: authProvider,
		ChatService:  services.NewChatService(store, authProvider, notifier, conf, zl),
		Logger:       zl,
	}
	s.Start()
}
