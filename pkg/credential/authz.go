package credential

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/brokkr/broker/internal/apierr"
	"github.com/brokkr/broker/internal/httpserver"
	"github.com/brokkr/broker/internal/store"
)

// rule is one row of the static (pattern, allowed_kinds) authorization
// table §4.1 describes: authentication is the middleware's job, but
// endpoint-level authorization is policy-at-handler, expressed here as a
// table handlers consult explicitly.
type rule struct {
	pattern      *regexp.Regexp
	allowedKinds map[store.PrincipalKind]bool
}

func kinds(ks ...store.PrincipalKind) map[store.PrincipalKind]bool {
	m := make(map[store.PrincipalKind]bool, len(ks))
	for _, k := range ks {
		m[k] = true
	}
	return m
}

// endpointRules is consulted by RequireKind via the first matching pattern.
// Admin is implicitly allowed everywhere by RequireKind itself.
var endpointRules = []rule{
	{regexp.MustCompile(`^/agents/[^/]+/(labels|annotations|targets|rotate-pak)$`), kinds(store.PrincipalAdmin)},
	{regexp.MustCompile(`^/agents/[^/]+/target-state$`), kinds(store.PrincipalAgent)},
	{regexp.MustCompile(`^/agents/[^/]+/events$`), kinds(store.PrincipalAgent)},
	{regexp.MustCompile(`^/agents/[^/]+/work-orders/pending$`), kinds(store.PrincipalAgent)},
	{regexp.MustCompile(`^/agents/[^/]+/diagnostics/[^/]+/result$`), kinds(store.PrincipalAgent)},
	{regexp.MustCompile(`^/agents/[^/]+/diagnostics$`), kinds(store.PrincipalAdmin)},
	{regexp.MustCompile(`^/agents(/.*)?$`), kinds(store.PrincipalAdmin, store.PrincipalGenerator)},
	{regexp.MustCompile(`^/stacks`), kinds(store.PrincipalAdmin, store.PrincipalGenerator)},
	{regexp.MustCompile(`^/generators`), kinds(store.PrincipalAdmin)},
	{regexp.MustCompile(`^/work-orders/[^/]+/(claim|complete)$`), kinds(store.PrincipalAgent)},
	{regexp.MustCompile(`^/work-orders`), kinds(store.PrincipalAdmin, store.PrincipalGenerator)},
	{regexp.MustCompile(`^/webhooks`), kinds(store.PrincipalAdmin)},
	{regexp.MustCompile(`^/admin/`), kinds(store.PrincipalAdmin)},
}

// Authorize checks path against the static endpoint table for the caller's
// kind. Admins pass every rule. Unmatched paths are denied by default.
func Authorize(payload AuthPayload, path string) error {
	if payload.IsAdmin {
		return nil
	}
	for _, r := range endpointRules {
		if r.pattern.MatchString(path) {
			if r.allowedKinds[payload.Kind] {
				return nil
			}
			return apierr.New(apierr.Forbidden, "principal kind not permitted for this endpoint")
		}
	}
	return apierr.New(apierr.Forbidden, "no authorization rule for this endpoint")
}

// RequireKind is a convenience handler wrapper that authorizes against the
// static table before calling next. The table's patterns are relative to the
// /api/v1 root, so that prefix is stripped from the request path first.
func RequireKind(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := httpserver.RequestIDFromContext(r.Context())
		payload, ok := FromContext(r.Context())
		if !ok {
			httpserver.RespondErr(w, requestID, apierr.New(apierr.Unauthenticated, "no authenticated principal"))
			return
		}
		if err := Authorize(payload, strings.TrimPrefix(r.URL.Path, "/api/v1")); err != nil {
			httpserver.RespondErr(w, requestID, err)
			return
		}
		next(w, r)
	}
}
