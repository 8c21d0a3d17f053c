package main

import (
	"flag"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/himanishpuri/audion/internal/audio"
	"github.com/himanishpuri/audion/pkg/audion"
	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
)

var (
	port           int
	dbPath         string
	tempDir        string
	cacheDir       string
	allowedFormats string
	maxFileSizeMB  int64
	allowedOrigins string
	noHistory      bool
)

func registerFlags() {
	flag.IntVar(&port, "port", getEnvInt("AUDION_PORT", 8000), "HTTP server port")
	flag.StringVar(&dbPath, "db", getEnvOrDefault("AUDION_DB_PATH", "audion.sqlite3"), "Path to SQLite run history database")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("AUDION_TEMP_DIR", "/tmp"), "Temporary directory for uploads")
	flag.StringVar(&cacheDir, "cache", getEnvOrDefault("AUDION_CACHE_DIR", ""), "Feature cache directory (disabled when empty)")
	flag.StringVar(&allowedFormats, "formats", getEnvOrDefault("AUDION_ALLOWED_FORMATS", "wav,mp3,flac,m4a"), "Comma-separated list of accepted file extensions")
	flag.Int64Var(&maxFileSizeMB, "max-size", int64(getEnvInt("AUDION_MAX_FILE_SIZE_MB", 50)), "Maximum size of one uploaded file in MB")
	flag.StringVar(&allowedOrigins, "origins", getEnvOrDefault("AUDION_ORIGINS", "http://localhost:3000,http://localhost:5173"), "Comma-separated list of allowed CORS origins (use * for all)")
	flag.BoolVar(&noHistory, "no-history", getEnvOrDefault("AUDION_HISTORY", "true") == "false", "Do not record runs")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func main() {
	_ = godotenv.Load()
	registerFlags()
	flag.Parse()

	// Parse allowed origins
	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		for _, o := range strings.Split(allowedOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	service, err := audion.NewService(
		audion.WithDBPath(dbPath),
		audion.WithTempDir(tempDir),
		audion.WithCacheDir(cacheDir),
		audion.WithAllowedFormats(audio.ParseFormats(allowedFormats)...),
		audion.WithHistory(!noHistory),
	)
	if err != nil {
		log.Fatalf("Failed to create service: %v", xerrors.New(err))
	}
	defer service.Close()

	config := &ServerConfig{
		Port:           port,
		DBPath:         dbPath,
		TempDir:        tempDir,
		MaxFileSizeMB:  maxFileSizeMB,
		AllowedOrigins: origins,
		History:        !noHistory,
	}

	server := NewServer(service, config)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", xerrors.New(err))
	}
}
