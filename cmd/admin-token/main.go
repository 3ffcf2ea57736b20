package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"flowchart_gateway/internal/auth"
)

func main() {
	subject := flag.String("subject", "", "operator name or email carried in the token")
	roles := flag.String("roles", "admin", "comma-separated roles (admin, viewer)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintf(os.Stderr, "ERROR: JWT_SECRET must be set\n")
		os.Exit(1)
	}
	if *subject == "" {
		fmt.Fprintf(os.Stderr, "ERROR: -subject is required\n")
		os.Exit(1)
	}

	parsed, err := auth.ParseRoles(strings.Split(*roles, ","))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	issuer, err := auth.NewTokenIssuer([]byte(secret), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	token, expiresAt, err := issuer.Issue(*subject, parsed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Token for %s (%s), expires %s\n", *subject, *roles, expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}
