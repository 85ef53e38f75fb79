// Command token-gen issues relay access tokens signed with JWT_SECRET
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"secureconnect-sync/pkg/config"
	"secureconnect-sync/pkg/jwt"
	"secureconnect-sync/pkg/sanitize"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}

	flagSet := pflag.NewFlagSet("token-gen", pflag.ContinueOnError)
	userID := flagSet.StringP("user", "u", "", "user id the token is issued to")
	ttl := flagSet.Duration("ttl", cfg.JWT.AccessTokenExpiry, "token lifetime")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		pterm.Error.Println(err)
		os.Exit(2)
	}

	if err := cfg.ValidateRelay(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	if !sanitize.ValidUserID(*userID) {
		pterm.Error.Printfln("invalid user id %q", *userID)
		os.Exit(2)
	}

	token, err := jwt.NewJWTManager(cfg.JWT.Secret, *ttl).GenerateAccessToken(*userID)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	fmt.Println(token)
}
