package netsync

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionKeyExpiry = 24 * time.Hour

// MintSessionKey creates a signed guest session key carried in the auth
// handshake
func MintSessionKey(secret []byte, playerName, sessionID string) (string, error) {
	claims := jwt.MapClaims{
		"name": playerName,
		"sid":  sessionID,
		"exp":  time.Now().Add(sessionKeyExpiry).Unix(),
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseSessionKey validates a session key and returns (playerName, sessionID)
func ParseSessionKey(secret []byte, tokenStr string) (string, string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("invalid session key")
	}
	name, ok := claims["name"].(string)
	if !ok {
		return "", "", fmt.Errorf("invalid session key claims")
	}
	sid, ok := claims["sid"].(string)
	if !ok {
		return "", "", fmt.Errorf("invalid session key claims")
	}
	return name, sid, nil
}
