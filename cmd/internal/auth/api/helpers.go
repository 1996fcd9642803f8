package authapi

import (
	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/session"
)

func toSessionResponse(issued session.Issued, includeRefresh bool) sessionResponse {
	out := sessionResponse{
		AccessToken:      issued.AccessToken,
		AccessExpiresAt:  issued.AccessExp,
		RefreshExpiresAt: issued.RefreshExp,
	}
	if includeRefresh {
		out.RefreshToken = issued.RefreshToken
	}
	return out
}

func toIssuedPrincipal(issued session.Issued) principalResponse {
	return principalResponse{
		ID:          issued.Principal.ID,
		Email:       issued.Principal.Email,
		Name:        issued.Principal.DisplayName,
		Permissions: issued.Permissions,
	}
}

func toPrincipalResponse(p identity.Principal) principalResponse {
	return principalResponse{
		ID:        p.ID,
		Email:     p.Email,
		Name:      p.DisplayName,
		CreatedAt: p.CreatedAt,
	}
}

func toSummaries(in []identity.PrincipalSummary) []principalSummaryResponse {
	out := make([]principalSummaryResponse, 0, len(in))
	for _, p := range in {
		roles := p.Roles
		if roles == nil {
			roles = []string{}
		}
		out = append(out, principalSummaryResponse{
			ID:        p.ID,
			Email:     p.Email,
			Name:      p.DisplayName,
			Roles:     roles,
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		})
	}
	return out
}

func toRoles(in []identity.Role) []roleResponse {
	out := make([]roleResponse, 0, len(in))
	for _, r := range in {
		perms := r.Permissions
		if perms == nil {
			perms = []string{}
		}
		out = append(out, roleResponse{ID: r.ID, Name: r.Name, Permissions: perms})
	}
	return out
}
