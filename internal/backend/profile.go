package backend

import (
	"strings"
)

// Dialect names the payload shape a backend speaks.
type Dialect string

const (
	DialectDentalink Dialect = "dentalink"
	DialectMedilink  Dialect = "medilink"
)

// Profile describes one practice-management backend. Profiles are built once
// at startup and never mutated.
type Profile struct {
	Name        string // routing key, e.g. "dentalink"
	DisplayName string // label reported to callers, e.g. "Dentalink v1"
	BaseURL     string
	AuthHeaders map[string]string
	Dialect     Dialect
	// IdentifierKind is the professional id field name in this dialect.
	IdentifierKind string
}

// Label returns the display name, falling back to the routing key.
func (p Profile) Label() string {
	if strings.TrimSpace(p.DisplayName) != "" {
		return p.DisplayName
	}
	return p.Name
}

// TokenHeaders builds the "Authorization: Token X" header set used by HealthAtom APIs.
func TokenHeaders(token string) map[string]string {
	if strings.TrimSpace(token) == "" {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Token " + token}
}

// DentalinkProfile returns the Dentalink v1 profile for the given base URL and token.
func DentalinkProfile(baseURL, token string) Profile {
	return Profile{
		Name:           string(DialectDentalink),
		DisplayName:    "Dentalink v1",
		BaseURL:        baseURL,
		AuthHeaders:    TokenHeaders(token),
		Dialect:        DialectDentalink,
		IdentifierKind: "id_dentista",
	}
}

// MedilinkProfile returns the Medilink v5 profile for the given base URL and token.
func MedilinkProfile(baseURL, token string) Profile {
	return Profile{
		Name:           string(DialectMedilink),
		DisplayName:    "Medilink v5",
		BaseURL:        baseURL,
		AuthHeaders:    TokenHeaders(token),
		Dialect:        DialectMedilink,
		IdentifierKind: "id_profesional",
	}
}
