package app

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"

	"github.com/yungbote/lessongen-backend/internal/platform/envutil"
)

type Config struct {
	Port        string
	LogMode     string
	ServiceName string
	Environment string
	Version     string

	JWTSecretKey string
	// ProgressBus is redis, postgres or local.
	ProgressBus string
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func LoadConfig() Config {
	return Config{
		Port:         envutil.String("PORT", "8080"),
		LogMode:      envutil.String("LOG_MODE", "development"),
		ServiceName:  envutil.String("OTEL_SERVICE_NAME", "lessongen"),
		Environment:  envutil.String("APP_ENV", "local"),
		Version:      envutil.String("APP_VERSION", "dev"),
		JWTSecretKey: envutil.String("JWT_SECRET_KEY", ""),
		ProgressBus:  strings.ToLower(envutil.String("PROGRESS_BUS", "local")),
	}
}
