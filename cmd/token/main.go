// Command token prints a signed access token for local testing.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"ridehail/internal/auth"
	"ridehail/internal/config"
	"ridehail/internal/domain"
)

func main() {
	user := pflag.StringP("user", "u", "", "user id to embed in the token")
	role := pflag.StringP("role", "r", string(domain.RolePassenger), "role: passenger, driver or admin")
	ttl := pflag.Duration("ttl", time.Hour, "token lifetime")
	pflag.Parse()

	principal := domain.Principal{ID: *user, Role: domain.Role(*role)}
	if principal.ID == "" || !principal.Role.Valid() {
		fmt.Fprintln(os.Stderr, "usage: token --user <id> [--role passenger|driver|admin] [--ttl 1h]")
		os.Exit(2)
	}

	cfg := config.Load()
	if cfg.JWT.Secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET must be set")
		os.Exit(1)
	}

	token, err := auth.NewJWTService(cfg.JWT).GenerateToken(principal, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
