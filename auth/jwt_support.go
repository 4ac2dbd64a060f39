package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtExpiry reads the exp claim of an access token without verifying its
// signature. The identity server is trusted for issuance; the claim is only
// used to schedule the next refresh.
func jwtExpiry(accessToken string) (time.Time, bool) {
	accessToken = strings.TrimSpace(accessToken)
	if strings.Count(accessToken, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.UTC(), true
}
