package utils

import (
	"errors"
	"strconv"
	"time"

	"roombox-service/config"

	"github.com/golang-jwt/jwt/v5"
)

// Tokens struct to describe tokens object.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// TokenMetadata struct to describe metadata in JWT.
type TokenMetadata struct {
	Id   string
	Role string
	Otp  bool
	Exp  int64
}

// UserID parses the subject id. Zero means the token carried none.
func (m *TokenMetadata) UserID() uint {
	id, err := strconv.ParseUint(m.Id, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

var ErrInvalidClaims = errors.New("invalid token claims")

// GenerateTokens issues an access and refresh pair. otp marks tokens that
// still need the second factor.
func GenerateTokens(id, role string, otp bool) (*Tokens, error) {
	accessToken, err := generateToken(id, role, otp, "JWT_ACCESS_EXPIRE", "JWT_ACCESS_KEY")
	if err != nil {
		return nil, err
	}

	refreshToken, err := generateToken(id, role, otp, "JWT_REFRESH_EXPIRE", "JWT_REFRESH_KEY")
	if err != nil {
		return nil, err
	}

	return &Tokens{
		Access:  accessToken,
		Refresh: refreshToken,
	}, nil
}

func generateToken(id, role string, otp bool, expire string, key string) (string, error) {
	minutes := config.Int(expire, 15)

	claims := jwt.MapClaims{
		"id":   id,
		"role": role,
		"otp":  otp,
		"exp":  time.Now().Add(time.Minute * time.Duration(minutes)).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString([]byte(config.Config(key)))
}

func CheckAndExtractTokenMetadata(token string, key string) (*TokenMetadata, error) {
	t, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		return []byte(config.Config(key)), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return nil, ErrInvalidClaims
	}
	return MetadataFromClaims(claims)
}

// MetadataFromClaims reads the claims written by GenerateTokens.
func MetadataFromClaims(claims jwt.MapClaims) (*TokenMetadata, error) {
	id, ok := claims["id"].(string)
	if !ok || id == "" {
		return nil, ErrInvalidClaims
	}
	otp, _ := claims["otp"].(bool)
	role, _ := claims["role"].(string)
	exp, _ := claims["exp"].(float64)

	return &TokenMetadata{
		Id:   id,
		Role: role,
		Otp:  otp,
		Exp:  int64(exp),
	}, nil
}
