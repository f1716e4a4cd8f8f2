package obs

import "strings"

// CanonicalPath collapses path parameters so metric label cardinality stays
// bounded. Only routes that embed identifiers are rewritten.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "auth" &&
		(parts[2] == "login" || parts[2] == "callback"):
		return "/v1/auth/" + parts[2] + "/:provider"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "compliance" && parts[2] == "export":
		return "/v1/compliance/export/:user_id"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "compliance" && parts[2] == "user":
		return "/v1/compliance/user/:user_id"
	}
	return path
}
