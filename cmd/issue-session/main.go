package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/aksara-lms/proctor-backend/internal/auth"
	"github.com/aksara-lms/proctor-backend/internal/config"
	"github.com/aksara-lms/proctor-backend/internal/database"
	"github.com/aksara-lms/proctor-backend/internal/logger"
	"github.com/aksara-lms/proctor-backend/internal/session"
)

// issue-session is an operator tool covering the steps the LMS normally
// performs: issuing a session record for a verified student, minting
// invigilator tokens, and hashing exam entry passwords.
func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if len(os.Args) < 2 {
		printUsage()
		return
	}

	authService := auth.NewService(cfg)

	switch os.Args[1] {
	case "session":
		issueSession(cfg, authService, log)
	case "invigilator":
		issueInvigilator(authService, log)
	case "hash-password":
		hashPassword(authService, log)
	default:
		printUsage()
	}
}

func printUsage() {
	fmt.Println("Usage: issue-session <command>")
	fmt.Println("Commands:")
	fmt.Println("  session        issue a session record for a verified student")
	fmt.Println("  invigilator    mint an invigilator token for an exam")
	fmt.Println("  hash-password  hash an exam entry password")
}

func issueSession(cfg *config.Config, authService *auth.Service, log zerolog.Logger) {
	ctx := context.Background()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	sessions := session.NewValidator(session.NewRedisStore(rdb), cfg.SessionTTL, log)

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Issue Exam Session ===")

	examID, ok := promptUUID(reader, "Enter Exam ID: ")
	if !ok {
		return
	}

	fmt.Print("Enter Student ID: ")
	studentIDStr, _ := reader.ReadString('\n')
	studentID, err := strconv.Atoi(strings.TrimSpace(studentIDStr))
	if err != nil {
		fmt.Println("Error: Student ID must be a number")
		return
	}

	fmt.Print("Enter Device Hash: ")
	deviceHash, _ := reader.ReadString('\n')
	deviceHash = strings.TrimSpace(deviceHash)
	if deviceHash == "" {
		fmt.Println("Error: Device hash is required")
		return
	}

	token, err := sessions.Issue(ctx, examID, studentID, deviceHash)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue session")
	}

	fmt.Printf("\nSession token: %s\n", token)
	fmt.Printf("Valid for: %s\n", cfg.SessionTTL)
}

func issueInvigilator(authService *auth.Service, log zerolog.Logger) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Mint Invigilator Token ===")

	examID, ok := promptUUID(reader, "Enter Exam ID: ")
	if !ok {
		return
	}

	token, err := authService.GenerateInvigilatorToken(examID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate token")
	}

	fmt.Printf("\nInvigilator token: %s\n", token)
}

func hashPassword(authService *auth.Service, log zerolog.Logger) {
	fmt.Println("=== Hash Exam Entry Password ===")

	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading password")
		return
	}
	fmt.Println() // Newline after password input
	password := string(bytePassword)
	if len(password) < 4 {
		fmt.Println("Error: Password must be at least 4 characters")
		return
	}

	hash, err := authService.HashPassword(password)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	fmt.Printf("\nBcrypt hash (store in exams.entry_password_hash):\n%s\n", hash)
}

func promptUUID(reader *bufio.Reader, label string) (uuid.UUID, bool) {
	fmt.Print(label)
	raw, _ := reader.ReadString('\n')
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		fmt.Println("Error: invalid UUID")
		return uuid.Nil, false
	}
	return id, true
}
