package middleware

import "strings"

// MaskSecret маскирует ключи и токены в логах (в prod не светить полное значение).
func MaskSecret(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
