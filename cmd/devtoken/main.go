// Command devtoken mints an access token so the API can be exercised without
// the external identity service.
//
//	go run ./cmd/devtoken -user 42 -role ADMIN
package main

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/babyfoot-reservation/internal/config"
	"github.com/iliyamo/babyfoot-reservation/internal/utils"
)

func main() {
	config.LoadDotEnv()

	user := flag.Uint64("user", 0, "player or admin ID (required)")
	role := flag.String("role", utils.RolePlayer, "PLAYER or ADMIN")
	ttl := flag.Int("ttl", 0, "lifetime in minutes (default ACCESS_TOKEN_TTL_MIN or 60)")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	if *ttl <= 0 {
		*ttl = config.AccessTTLMinutes()
	}

	tok, err := utils.NewAccessToken(secret, *user, *role, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	log.WithFields(log.Fields{"user": *user, "role": *role, "expires": tok.Exp}).Info("token issued")
	fmt.Println(tok.Token)
}
