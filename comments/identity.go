package comments

import (
	"errors"
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// the signed-in user as seen by the sync engine
type Identity struct {
	UserId      UserId
	DisplayName string
}

// the token is verified by the backend. the client only reads the claims it needs
// to attribute optimistic state to the signed-in user.
func ParseIdentityUnverified(jwt string) (*Identity, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	identity := &Identity{}

	for _, key := range []string{"user_id", "userId", "id", "sub"} {
		if v, ok := claims[key]; ok && v != nil {
			identity.UserId = UserId(normalizeIdString(fmt.Sprint(v)))
			break
		}
	}
	for _, key := range []string{"display_name", "name", "username", "user_name"} {
		if v, ok := claims[key].(string); ok && v != "" {
			identity.DisplayName = v
			break
		}
	}

	if identity.UserId == "" {
		return nil, errors.New("Token does not carry a user id.")
	}
	return identity, nil
}
