package auth

import (
	"fmt"
	"net/http"

	"offer-chain-api/internal/apierror"
)

var methodActions = map[string]Action{
	http.MethodGet:    ActionView,
	http.MethodHead:   ActionView,
	http.MethodPost:   ActionCreate,
	http.MethodPut:    ActionEdit,
	http.MethodPatch:  ActionEdit,
	http.MethodDelete: ActionDelete,
}

// ActionForMethod maps an HTTP method to the action it requires.
func ActionForMethod(method string) (Action, bool) {
	a, ok := methodActions[method]
	return a, ok
}

// Authorize is the single permission decision point. Superadmins are allowed
// everything; everyone else needs the action granted on the section.
func Authorize(p Principal, section string, action Action) error {
	if p.IsSuperadmin() {
		return nil
	}

	actions, ok := p.Capabilities[section]
	if !ok {
		return apierror.Forbidden(fmt.Sprintf("Access denied: No permissions configured for section %q", section))
	}
	if !actions[action] {
		return apierror.Forbidden(fmt.Sprintf("Access denied: Insufficient permissions to %s %s", action, section))
	}
	return nil
}
