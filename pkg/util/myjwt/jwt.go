package myjwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type CustomClaims struct {
	Uuid     string `json:"uuid"`
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// Manager 持有签名密钥，避免在包级读取全局配置
type Manager struct {
	key         []byte
	expireHours int
	issuer      string
}

func NewManager(key string, expireHours int, issuer string) (*Manager, error) {
	if key == "" {
		return nil, errors.New("jwt key is empty")
	}
	if expireHours <= 0 {
		expireHours = 24
	}
	return &Manager{key: []byte(key), expireHours: expireHours, issuer: issuer}, nil
}

func (m *Manager) GenerateToken(uuid string, tenantID string) (string, error) {
	claims := CustomClaims{
		Uuid:     uuid,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(m.expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    m.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.key)
}

func (m *Manager) ParseToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.key, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
