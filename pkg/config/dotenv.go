package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotenv populates the process environment from the given env file before
// any Load*Config call reads it. Variables already present in the environment
// win over file values. A missing file is not an error so fresh checkouts and
// containerized runs, where configuration arrives through the environment,
// work without one.
func LoadDotenv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}
