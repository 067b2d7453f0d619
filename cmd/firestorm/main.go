package main

import (
	"os"

	"firestorm/cmd/firestorm/cmds"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Info("The .env file not found.")
	}

	if err := cmds.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
