package admission

import "time"

// Identity is the minimal profile bound into a token and returned on login.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Claims are the decoded fields carried inside a verified token.
type Claims struct {
	Identity
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Deny reasons surfaced to the HTTP layer.
const (
	ReasonBlocked            = "blocked"
	ReasonBadRequest         = "bad request"
	ReasonInvalidCredentials = "invalid credentials"
	ReasonMissingToken       = "authentication required"
	ReasonBadTokenFormat     = "authorization format invalid"
	ReasonInvalidToken       = "invalid or expired token"
)

// Verdict is the outcome of an admission decision. Exactly one of the
// credential path (Token/User) or the token path (Claims) is populated on
// allow; Reason is set only on deny.
type Verdict struct {
	Allow      bool
	Reason     string
	RetryAfter time.Duration
	Token      string
	User       *Identity
	Claims     *Claims
}

func deny(reason string) Verdict {
	return Verdict{Reason: reason}
}
