package google

import "github.com/goliatone/go-signin/credential"

func mapProfile(claims *credential.IDTokenClaims) *credential.Profile {
	if claims == nil {
		return nil
	}

	profile := claims.Profile(providerName)
	profile.Raw["email_verified"] = claims.EmailVerified
	profile.Raw["name"] = claims.Name
	profile.Raw["picture"] = claims.Picture
	if claims.AuthorizedParty != "" {
		profile.Raw["azp"] = claims.AuthorizedParty
	}
	return profile
}
