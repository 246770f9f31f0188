package middleware

import (
	"bufio"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

var corsMethods = []string{"GET", "POST", "OPTIONS"}

// LoadCORS restricts origins to the ones listed in path, one per line.
// Without the file every origin is allowed and credentials are disabled.
func LoadCORS(path string) func(http.Handler) http.Handler {
	origins := loadCORSOrigins(path)

	if len(origins) > 0 {
		log.Info().Int("origins", len(origins)).Str("file", path).Msg("loaded CORS origins")
		return cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   corsMethods,
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           86400,
		})
	}

	log.Warn().Str("file", path).Msg("no CORS origins file, allowing all origins without credentials")
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   corsMethods,
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}

func loadCORSOrigins(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var origins []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			origins = append(origins, line)
		}
	}
	return origins
}
