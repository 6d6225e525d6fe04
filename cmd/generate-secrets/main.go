package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/roomgate/booking-backend/internal/utils"
	"github.com/roomgate/booking-backend/pkg/jwt"
)

func main() {
	userID := flag.String("dev-token-user", "", "also print a 24h access token for this user id (local testing)")
	roles := flag.String("dev-token-roles", "customer", "comma-separated roles for the dev token")
	issuer := flag.String("issuer", "roomgate", "JWT issuer")
	flag.Parse()

	fmt.Println("===========================================")
	fmt.Println("Secret Generator for RoomGate")
	fmt.Println("===========================================")
	fmt.Println()

	jwtSecret, webhookSecret, err := utils.GenerateServiceSecrets()
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("Add these to your .env file:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Printf("JWT_ISSUER=%s\n", *issuer)
	fmt.Println()
	fmt.Println("# Only for local gateway simulators; production uses the gateway's secret")
	fmt.Printf("PAYMENT_WEBHOOK_SECRET=%s\n", webhookSecret)
	fmt.Println()

	if *userID != "" {
		token, err := jwt.NewService(jwtSecret, *issuer, 24*time.Hour).
			GenerateAccessToken(*userID, "", strings.Split(*roles, ","))
		if err != nil {
			log.Fatalf("Failed to sign dev token: %v", err)
		}
		fmt.Printf("Dev access token for %s (%s):\n%s\n\n", *userID, *roles, token)
	}

	fmt.Println("IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
