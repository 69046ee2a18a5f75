// Package paymentprovider содержит клиент API платёжного провайдера.
// Для подсистемы синхронизации провайдер — внешний источник истины:
// клиент умеет отдавать актуальный снимок подписки и список активных
// подписок, больше ничего.
package paymentprovider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/magabrotheeeer/billing-sync/internal/providerevent"
)

// ErrSubscriptionNotFound — провайдер не знает такой подписки (404).
var ErrSubscriptionNotFound = errors.New("subscription not found at provider")

// Client описывает запросы к провайдеру, которые нужны реконсиляции.
type Client interface {
	GetSubscription(ctx context.Context, providerSubscriptionID string) (*providerevent.SubscriptionObject, error)
	ListActiveSubscriptions(ctx context.Context) ([]*providerevent.SubscriptionObject, error)
}

// HTTPClient реализует Client поверх REST API провайдера.
type HTTPClient struct {
	shopID     string
	secretKey  string
	apiURL     string
	httpClient *http.Client
}

// NewHTTPClient создаёт новый клиент провайдера. Таймаут обязателен:
// реконсиляция не должна зависать на внешнем вызове.
func NewHTTPClient(apiURL, shopID, secretKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		shopID:     shopID,
		secretKey:  secretKey,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, nil)
	if err != nil {
		return nil, err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.shopID + ":" + c.secretKey))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// GetSubscription возвращает актуальный снимок подписки напрямую от провайдера,
// минуя webhook-канал.
func (c *HTTPClient) GetSubscription(ctx context.Context, providerSubscriptionID string) (*providerevent.SubscriptionObject, error) {
	const op = "paymentprovider.GetSubscription"

	req, err := c.newRequest(ctx, http.MethodGet, "/subscriptions/"+providerSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %s", op, resp.Status)
	}

	var obj providerevent.SubscriptionObject
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &obj, nil
}

// ListActiveSubscriptions возвращает все подписки, которые провайдер
// считает действующими. Используется фоновым проходом реконсиляции.
func (c *HTTPClient) ListActiveSubscriptions(ctx context.Context) ([]*providerevent.SubscriptionObject, error) {
	const op = "paymentprovider.ListActiveSubscriptions"

	req, err := c.newRequest(ctx, http.MethodGet, "/subscriptions?status=active")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %s", op, resp.Status)
	}

	var list struct {
		Items []*providerevent.SubscriptionObject `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list.Items, nil
}
