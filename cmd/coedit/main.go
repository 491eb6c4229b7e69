package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ptrks/coedit/internal/config"
	"github.com/ptrks/coedit/internal/hub"
	"github.com/ptrks/coedit/internal/log"
	"github.com/ptrks/coedit/internal/model"
	"github.com/ptrks/coedit/internal/server"
	"github.com/ptrks/coedit/internal/store"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New("coedit")

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	var st store.Store
	if cfg.MongoURI != "" {
		ms, err := store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			logger.Error("connect mongo", "err", err)
			os.Exit(1)
		}
		defer ms.Close(context.Background())
		st = ms
		logger.Info("using mongo store", "db", cfg.MongoDB)
	} else {
		st = store.NewMemoryStore()
		logger.Info("using in-memory store")
	}

	if cfg.SeedDemo {
		if err := seed(ctx, st); err != nil {
			logger.Error("seed demo data", "err", err)
			os.Exit(1)
		}
		logger.Info("seeded demo account", "email", "test@example.com")
	}

	srv := server.New(st, hub.New(), cfg.JWTSecret, cfg.FrontendURL, logger)
	if err := srv.Run(ctx, cfg.ListenAddr); err != nil {
		logger.Error("server", "err", err)
		os.Exit(1)
	}
}

// seed creates a throwaway account and a welcome document so the
// editor is usable immediately on a fresh store.
func seed(ctx context.Context, st store.Store) error {
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user := model.NewUser("test@example.com", string(hash))
	if err := st.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return nil
		}
		return err
	}

	doc := model.NewDocument("Welcome Document", user.ID)
	doc.Content = "# Welcome to coedit\n\nStart editing this document to test the collaboration features!"
	return st.CreateDocument(ctx, doc)
}
