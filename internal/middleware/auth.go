package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jengzang/drivescore-backend-go/pkg/response"
)

// DriverIDKey is the gin context key holding the authenticated driver
const DriverIDKey = "driver_id"

// Claims carried by driver access tokens
type Claims struct {
	DriverID string `json:"driver_id"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 driver token valid for ttl
func SignToken(secret, driverID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		DriverID: driverID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   driverID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// JWTAuth validates bearer tokens and stores the driver id in the context
func JWTAuth(secret string) gin.HandlerFunc {
	secretBytes := []byte(secret)
	return func(c *gin.Context) {
		token := bearerFromHeader(c.GetHeader("Authorization"))
		if token == "" {
			response.Error(c, http.StatusUnauthorized, "missing bearer token", nil)
			return
		}

		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (interface{}, error) {
			return secretBytes, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "invalid token", err)
			return
		}

		driverID := claims.DriverID
		if driverID == "" {
			driverID = claims.Subject
		}
		if !parsed.Valid || driverID == "" {
			response.Error(c, http.StatusUnauthorized, "invalid token", errors.New("token carries no driver"))
			return
		}

		c.Set(DriverIDKey, driverID)
		c.Next()
	}
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
