// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/mail"
	"strings"
)

// accountNumberLength задаёт длину номера счёта в формате NUBAN.
const accountNumberLength = 10

// NormalizeEmail приводит адрес к нижнему регистру и убирает пробелы по краям.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail проверяет, что строка является одиночным адресом без отображаемого имени.
func IsValidEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}

	at := strings.LastIndexByte(email, '@')
	return at > 0 && strings.Contains(email[at+1:], ".")
}

// IsValidAccountNumber проверяет номер банковского счёта: ровно десять цифр.
func IsValidAccountNumber(number string) bool {
	if len(number) != accountNumberLength {
		return false
	}

	for _, ch := range number {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
