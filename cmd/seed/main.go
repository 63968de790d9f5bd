package main

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/uiseongsang/test-code-with-architecture/config"
)

// Seeds one ACTIVE and one PENDING user for local development. The PENDING
// user keeps a fixed certification code so the verify link can be exercised
// by hand.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := sql.Open("pgx", cfg.PostgresDSN())
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	var activeID int64
	err = db.QueryRow(`
		INSERT INTO users (email, nickname, address, status, certification_code)
		VALUES ($1, $2, $3, 'ACTIVE', $4)
		ON CONFLICT (email) DO UPDATE SET nickname = EXCLUDED.nickname
		RETURNING id
	`, "test@gmail.com", "thomas", "Seoul", uuid.NewString()).Scan(&activeID)
	if err != nil {
		log.Fatalf("failed to seed active user: %v", err)
	}
	fmt.Printf("seeded ACTIVE user: id=%d email=test@gmail.com\n", activeID)

	const pendingCode = "aaaaaaa-aaaaa-aaaa-aaa-aaaab"
	var pendingID int64
	err = db.QueryRow(`
		INSERT INTO users (email, nickname, address, status, certification_code)
		VALUES ($1, $2, $3, 'PENDING', $4)
		ON CONFLICT (email) DO UPDATE SET certification_code = EXCLUDED.certification_code
		RETURNING id
	`, "test1@gmail.com", "david", "Busan", pendingCode).Scan(&pendingID)
	if err != nil {
		log.Fatalf("failed to seed pending user: %v", err)
	}
	fmt.Printf("seeded PENDING user: id=%d email=test1@gmail.com code=%s\n", pendingID, pendingCode)
	fmt.Printf("verify with: GET /api/users/%d/verify?certificationCode=%s\n", pendingID, pendingCode)
}
