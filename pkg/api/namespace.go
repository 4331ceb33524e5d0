package api

import echo "github.com/labstack/echo/v5"

// namespaceHeader and namespaceQueryParam are the two places a caller may
// supply its namespace (§6: "Namespace is taken from X-Namespace header or
// ?namespace= query parameter").
const (
	namespaceHeader     = "X-Namespace"
	namespaceQueryParam = "namespace"
	defaultNamespace    = "default"
)

// namespaceOf resolves the caller's namespace for c, falling back to
// defaultNamespace so a client that never heard of namespaces still works
// against a single-tenant deployment.
func namespaceOf(c *echo.Context) string {
	if ns := c.Request().Header.Get(namespaceHeader); ns != "" {
		return ns
	}
	if ns := c.QueryParam(namespaceQueryParam); ns != "" {
		return ns
	}
	return defaultNamespace
}
