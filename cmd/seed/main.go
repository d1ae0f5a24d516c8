package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"fitstudio/internal/config"
	"fitstudio/internal/database"
	"fitstudio/internal/domain/user"
	"fitstudio/internal/logging"
	"fitstudio/internal/pkg/password"
)

const defaultSeedPassword = "Studio2024!"

type account struct {
	email     string
	firstName string
	lastName  string
	role      user.Role
	plan      string
	programs  []string
}

var accounts = []account{
	{email: "admin@fitstudio.local", firstName: "Studio", lastName: "Admin", role: user.RoleAdmin},
	{email: "coach@fitstudio.local", firstName: "Aliya", lastName: "Trainer", role: user.RoleTrainer},
	{email: "member@fitstudio.local", firstName: "Dana", lastName: "Member", role: user.RoleUser, plan: "basic"},
	{email: "program@fitstudio.local", firstName: "Timur", lastName: "Buyer", role: user.RoleUser, programs: []string{"back-program"}},
	{email: "visitor@fitstudio.local", firstName: "Arman", lastName: "Visitor", role: user.RoleUser},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.IsProd() {
		log.Fatal("refusing to seed a production store")
	}

	logger, _, err := logging.New(logging.Options{Env: cfg.AppEnv, Level: cfg.Log.Level})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	pw := os.Getenv("SEED_PASSWORD")
	if pw == "" {
		pw = defaultSeedPassword
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := database.OpenStore(ctx, cfg.Store.DSN, cfg.Store.DBName, cfg.Store.Timeout, logger.Named("store"))
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer func() { _ = store.Close(context.Background()) }()

	hasher, err := password.NewHasher(cfg.Auth.BcryptCost, cfg.Auth.HashWorkers)
	if err != nil {
		logger.Fatal("hasher", zap.Error(err))
	}
	hash, err := hasher.Hash(ctx, pw)
	if err != nil {
		logger.Fatal("hash seed password", zap.Error(err))
	}

	now := time.Now().UTC()
	for _, a := range accounts {
		u := &user.User{
			Email:           a.email,
			PasswordHash:    hash,
			FirstName:       a.firstName,
			LastName:        a.lastName,
			Role:            a.role,
			IsEmailVerified: true,
		}
		if err := store.Create(ctx, u); err != nil {
			if errors.Is(err, user.ErrEmailTaken) {
				logger.Info("account exists, skipping", zap.String("email", a.email))
				continue
			}
			logger.Fatal("create account", zap.String("email", a.email), zap.Error(err))
		}

		if a.plan != "" {
			sub := &user.Subscription{
				PlanID:                 a.plan,
				Status:                 user.StatusActive,
				CurrentPeriodStart:     now,
				CurrentPeriodEnd:       now.AddDate(0, 1, 0),
				ExternalSubscriptionID: "sub_seed_" + u.ID,
			}
			if err := store.SetSubscription(ctx, u.ID, sub); err != nil {
				logger.Fatal("set subscription", zap.String("email", a.email), zap.Error(err))
			}
		}
		for _, slug := range a.programs {
			if err := store.AddPurchasedProgram(ctx, u.ID, slug); err != nil {
				logger.Fatal("add program", zap.String("email", a.email), zap.String("program", slug), zap.Error(err))
			}
		}
		logger.Info("account seeded", zap.String("email", a.email), zap.String("role", string(a.role)))
	}

	logger.Info("seed completed", zap.Int("accounts", len(accounts)))
}
