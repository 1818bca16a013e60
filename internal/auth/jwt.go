package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var secret = []byte("dev-secret")

// SetSecret - установка ключа подписи из конфигурации при старте
func SetSecret(s string) {
	if s != "" {
		secret = []byte(s)
	}
}

type Claims struct {
	Username  string `json:"username"`
	AccountID int64  `json:"accountId"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateJWT - генерация токена при авторизации, срок действия сутки
func GenerateJWT(username string, accountID int64, role string) (string, error) {
	claims := Claims{
		Username:  username,
		AccountID: accountID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateJWT - проверка подписи и срока действия токена
func ValidateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("невалидный токен")
	}
	return claims, nil
}
