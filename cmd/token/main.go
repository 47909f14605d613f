// Command token issues an API access token for a tenant.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"hookline/internal/platform/auth"
	"hookline/internal/platform/config"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	tenant := flag.String("tenant", "default", "Tenant the token is scoped to")
	user := flag.String("user", "cli", "User id recorded in the token")
	email := flag.String("email", "", "User email")
	role := flag.String("role", "admin", "Role claim")
	scopes := flag.String("scopes", "", "Comma separated scopes, empty for unrestricted")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var scopeList []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopeList = append(scopeList, s)
		}
	}

	token, err := auth.NewTokenService(cfg.JWT).GenerateAccessToken(*user, *tenant, *role, *email, scopeList...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
