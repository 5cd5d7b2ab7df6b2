package reconcile

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// authorize checks the scheduler's bearer token: the `aud` claim must name
// this service and the `email` claim must match the configured scheduler
// service account. Signature verification happens at the ingress layer
// (the platform validates the OIDC token before routing); this check stops
// tokens minted for a different service from triggering runs.
func authorize(r *http.Request, audience, serviceAccount string) error {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return fmt.Errorf("missing bearer token")
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return fmt.Errorf("malformed token: %w", err)
	}

	aud, err := claims.GetAudience()
	if err != nil {
		return fmt.Errorf("read audience claim: %w", err)
	}
	if !audienceMatches(aud, audience) {
		return fmt.Errorf("audience %v does not include %q", []string(aud), audience)
	}

	if exp, err := claims.GetExpirationTime(); err != nil || exp == nil {
		return fmt.Errorf("missing expiry claim")
	} else if exp.Before(time.Now()) {
		return fmt.Errorf("token expired at %s", exp.Format(time.RFC3339))
	}

	if serviceAccount != "" {
		email, _ := claims["email"].(string)
		if email != serviceAccount {
			return fmt.Errorf("caller %q is not the scheduler account", email)
		}
	}
	return nil
}

func audienceMatches(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
