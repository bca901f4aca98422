// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev account (dev@example.com) already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	accountdomain "session-authority/internal/account/domain"
	accountrepo "session-authority/internal/account/repository"
	"session-authority/internal/config"
	"session-authority/internal/db"
	profiledomain "session-authority/internal/profile/domain"
	profilerepo "session-authority/internal/profile/repository"
	"session-authority/internal/security"
)

const (
	devEmail    = "dev@example.com"
	devPassword = "Password123!"
	devNickname = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	accounts := accountrepo.NewPostgresRepository(conn)
	profiles := profilerepo.NewPostgresRepository(conn)

	existing, err := accounts.GetByEmail(ctx, devEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Println("Seed already applied (dev@example.com exists). Skipping.")
		os.Exit(0)
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	digest, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()
	acct := &accountdomain.Account{
		ID:             uuid.New().String(),
		Email:          devEmail,
		Nickname:       devNickname,
		PasswordDigest: digest,
		Roles:          []string{accountdomain.RoleUser},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := accounts.Create(ctx, acct); err != nil {
		log.Fatalf("create dev account: %v", err)
	}

	// The profile normally arrives via the user.created consumer; seeding it
	// directly keeps local setups working without a running broker.
	if err := profiles.Create(ctx, &profiledomain.Profile{
		AccountID: acct.ID,
		Email:     devEmail,
		Nickname:  devNickname,
		CreatedAt: now,
	}); err != nil {
		log.Fatalf("create dev profile: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Dev login: %s / %s\n", devEmail, devPassword)
}
