// Package probe проверка доступности публичного URL вебхука при старте.
package probe

import (
	"context"
	"net/http"
	"time"

	"github.com/Dhoini/runsheet-api/pkg/logger"
)

// Timeout время ожидания ответа
const Timeout = 3 * time.Second

// Check делает GET на url. Любой ответ сервера считается доступностью: важен сам факт ответа.
func Check(ctx context.Context, client *http.Client, url string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	response, err := client.Do(request)
	if err != nil {
		return 0, err
	}
	defer response.Body.Close()
	return response.StatusCode, nil
}

// Start проверяет url в фоне и только пишет результат в лог. Пустой url пропускается.
func Start(url string, log *logger.Logger) {
	if url == "" {
		return
	}
	go func() {
		status, err := Check(context.Background(), http.DefaultClient, url)
		if err != nil {
			log.Warnw("Webhook endpoint is not reachable", "url", url, "error", err)
			return
		}
		log.Infow("Webhook endpoint is reachable", "url", url, "status", status)
	}()
}
