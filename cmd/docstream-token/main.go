package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/docstream/docstream/internal/auth"
	"github.com/docstream/docstream/internal/usage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("docstream-token")
	var (
		secret  = fs.StringLong("jwt-secret", "", "HS256 secret shared with the server")
		email   = fs.StringLong("email", "", "User email, written as the token subject")
		name    = fs.StringLong("name", "", "Display name")
		picture = fs.StringLong("picture", "", "Profile picture URL")
		plan    = fs.StringLong("plan", usage.PlanFree, "Plan: free, pro or unlimited")
		ttl     = fs.DurationLong("ttl", 0, "Token lifetime (no expiry when zero)")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("DOCSTREAM"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if !usage.KnownPlan(*plan) {
		fmt.Fprintf(os.Stderr, "error: unknown plan %q\n", *plan)
		os.Exit(1)
	}

	tokens, err := auth.NewTokenManager(*secret, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	token, err := tokens.Generate(*email, *name, *picture, *plan)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
