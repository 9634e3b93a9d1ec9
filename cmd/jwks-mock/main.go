// JWKS Mock: выпуск тестовых токенов для локального запуска Archive Module
// с AR_JWKS_URL=http://localhost:8081/jwks.
//
//	curl -s -XPOST localhost:8081/token -d '{"sub":"ivanov"}'
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/bigkaa/goartstore/archive-module/internal/devauth"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "8081"
	}

	keySize := 2048
	if v := os.Getenv("MOCK_KEY_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1024 {
			logger.Error("MOCK_KEY_SIZE: ожидается целое число не меньше 1024", slog.String("value", v))
			os.Exit(1)
		}
		keySize = size
	}

	issuer, err := devauth.NewIssuer(keySize, logger)
	if err != nil {
		logger.Error("Ошибка инициализации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           issuer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("JWKS Mock запущен", slog.String("addr", srv.Addr))
	fmt.Fprintln(os.Stderr, "ВНИМАНИЕ: только для локальной разработки, ключ генерируется при каждом старте")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
