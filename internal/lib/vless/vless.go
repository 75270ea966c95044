// Package vless собирает ссылки доступа vless:// из идентификатора
// клиента панели. Параметры транспорта (reality/grpc) совпадают с
// настройками inbound'ов и не меняются per-user.
package vless

import (
	"fmt"
	"net/url"
)

// Link возвращает ссылку доступа для клиента clientUUID на хосте host.
// label попадает во фрагмент и виден пользователю как имя профиля.
func Link(clientUUID, host, label string) string {
	return fmt.Sprintf(
		"vless://%s@%s:443?security=reality&type=grpc&fp=chrome&sni=google.com&serviceName=grpc#%s",
		clientUUID, host, label,
	)
}

// Host извлекает hostname из URL панели для подстановки в ссылку.
// Возвращает fallback, если URL не парсится.
func Host(panelURL, fallback string) string {
	u, err := url.Parse(panelURL)
	if err != nil || u.Hostname() == "" {
		return fallback
	}
	return u.Hostname()
}
