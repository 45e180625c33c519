// Package claims maps identity records onto OpenID Connect UserInfo claims.
//
// The requested claim string is the space-delimited scope set granted to the
// access token. Each of the four standard claim groups (profile, email,
// address, phone) expands into a fixed list of claim keys, and each key maps
// to an identity field through a fixed table. Claims the identity store
// cannot supply are omitted from the result rather than included as null.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/enovation/moodle-local-oauth2/identity"
	"github.com/enovation/moodle-local-oauth2/instrumentation"
)

// The standard OpenID Connect claim groups this mapper understands.
const (
	GroupProfile = "profile"
	GroupEmail   = "email"
	GroupAddress = "address"
	GroupPhone   = "phone"
)

// validGroups is the group evaluation order, fixed so output is stable.
var validGroups = []string{GroupProfile, GroupEmail, GroupAddress, GroupPhone}

// groupClaims lists the claim keys each group expands into.
var groupClaims = map[string][]string{
	GroupProfile: {
		"name", "family_name", "given_name", "middle_name", "nickname",
		"preferred_username", "profile", "picture", "website", "gender",
		"birthdate", "zoneinfo", "locale", "updated_at",
	},
	GroupEmail:   {"email", "email_verified"},
	GroupAddress: {"formatted", "street_address", "locality", "region", "postal_code", "country"},
	GroupPhone:   {"phone_number", "phone_number_verified"},
}

// Mapper computes UserInfo claims from the identity provider.
type Mapper struct {
	provider identity.Provider
	siteURL  string
	logger   *slog.Logger
	inst     *instrumentation.Instrumentation
}

// NewMapper creates a claims mapper. siteURL is the host application's base
// URL, used to construct the profile and picture claim URLs; a trailing
// slash is stripped.
func NewMapper(provider identity.Provider, siteURL string) *Mapper {
	return &Mapper{
		provider: provider,
		siteURL:  strings.TrimSuffix(siteURL, "/"),
		logger:   slog.Default(),
	}
}

// SetLogger sets a custom logger
func (m *Mapper) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the mapper
func (m *Mapper) SetInstrumentation(inst *instrumentation.Instrumentation) {
	m.inst = inst
}

// UserClaims returns the claims for the user selected by the requested
// space-delimited claim groups. An unknown user yields an empty map, not an
// error; unknown group names in the request are ignored.
func (m *Mapper) UserClaims(ctx context.Context, userID int64, requested string) (map[string]any, error) {
	user, err := m.provider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("looking up user %d: %w", userID, err)
	}

	requestedSet := make(map[string]bool)
	for _, name := range strings.Fields(requested) {
		requestedSet[name] = true
	}

	out := make(map[string]any)
	for _, group := range validGroups {
		if !requestedSet[group] {
			continue
		}
		if group == GroupAddress {
			// A direct address field passes through untouched; otherwise
			// the sub-claims are derived from the discrete location fields.
			if user.Address != "" {
				out["address"] = user.Address
			} else {
				out["address"] = m.expandGroup(group, user)
			}
			continue
		}
		for key, value := range m.expandGroup(group, user) {
			out[key] = value
		}
	}

	if m.inst != nil {
		m.inst.Metrics().ClaimsResolved.Add(ctx, 1)
	}
	m.logger.Debug("Resolved user claims", "user_id", userID, "claims", len(out))
	return out, nil
}

// expandGroup maps every claim key of a group to its value from the identity
// record, dropping claims the record cannot supply.
func (m *Mapper) expandGroup(group string, user *identity.User) map[string]any {
	out := make(map[string]any)
	for _, key := range groupClaims[group] {
		if value, ok := m.claimValue(key, user); ok {
			out[key] = value
		}
	}
	return out
}

// claimValue resolves a single claim key against the identity record. The
// bool reports whether the claim should appear in the output at all:
// unsupported claims (gender, birthdate) and empty optional values are
// omitted, while explicit booleans like phone_number_verified are kept.
func (m *Mapper) claimValue(key string, user *identity.User) (any, bool) {
	switch key {
	case "name":
		return user.FullName(), true
	case "given_name":
		return user.FirstName, true
	case "family_name":
		return user.LastName, true
	case "middle_name":
		return user.MiddleName, true
	case "nickname":
		return user.AlternateName, true
	case "preferred_username":
		return user.Username, true
	case "profile":
		if user.ID == 0 {
			return nil, false
		}
		return fmt.Sprintf("%s/user/profile.php?id=%d", m.siteURL, user.ID), true
	case "picture":
		if user.ID == 0 {
			return nil, false
		}
		return fmt.Sprintf("%s/user/pix.php/%d/f1.jpg", m.siteURL, user.ID), true
	case "email":
		return user.Email, true
	case "email_verified":
		// The address is verified as long as mail to it is not bouncing.
		return user.EmailStop == 0, true
	case "gender", "birthdate":
		// The identity store has no such fields.
		return nil, false
	case "zoneinfo":
		return user.Timezone, true
	case "locale":
		return user.Lang, true
	case "updated_at":
		if user.TimeModified == 0 {
			return nil, false
		}
		return user.TimeModified, true
	case "website":
		return user.URL, true
	case "phone_number":
		if user.Phone1 != "" {
			return user.Phone1, true
		}
		if user.Phone2 != "" {
			return user.Phone2, true
		}
		return nil, false
	case "phone_number_verified":
		// Phone numbers are never verified by the identity store.
		return false, true
	case "country":
		if user.Country == "" {
			return nil, false
		}
		return user.Country, true
	case "formatted", "street_address", "locality", "region", "postal_code":
		for _, v := range []string{user.Address, user.City, user.Country} {
			if v != "" {
				return v, true
			}
		}
		return nil, false
	default:
		// Unrecognized claim keys fall back to a direct field lookup.
		if value, ok := user.Field(key); ok {
			return value, true
		}
		return nil, false
	}
}
