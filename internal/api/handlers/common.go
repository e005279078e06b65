// Package handlers contains the HTTP handlers of the booking API. Handlers
// depend on small locally declared service interfaces, decode and validate
// the request, derive the storage scope from the resolved tenant and the
// authenticated actor, and render the core envelope.
package handlers

import (
	"net/http"
	"time"

	"classbook/internal/access"
	"classbook/internal/core"
	"classbook/internal/types"
)

// requestScope returns the actor (zero for anonymous requests) and the
// storage scope for the request.
func requestScope(r *http.Request) (types.Actor, types.Scope, error) {
	actor, _ := types.GetActor(r.Context())
	tenant, _ := types.GetTenant(r.Context())
	scope, err := access.ScopeFor(actor, tenant)
	if err != nil {
		return types.Actor{}, types.Scope{}, err
	}
	return actor, scope, nil
}

// authenticatedScope is requestScope for routes that need an actor.
func authenticatedScope(r *http.Request) (types.Actor, types.Scope, error) {
	if _, ok := types.GetActor(r.Context()); !ok {
		return types.Actor{}, types.Scope{}, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil)
	}
	return requestScope(r)
}

// parseDate parses a YYYY-MM-DD value as a UTC calendar date.
func parseDate(field, value string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidDate,
			field+" must be a YYYY-MM-DD date", err, map[string]any{"field": field})
	}
	return d, nil
}

// decodeAndValidate decodes the JSON body into dst and runs its validate tags.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *core.Validator, dst any) error {
	if err := core.DecodeJSON(w, r, dst); err != nil {
		return err
	}
	return v.ValidateStruct(dst)
}

func missingParam(name string) error {
	return types.NewAppError(types.ErrCodeValidationMissingField, name+" is required", nil)
}
