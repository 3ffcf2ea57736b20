package generation

import (
	"fmt"
	"net/http"
)

// headerAuth places an API key in a request header
type headerAuth struct {
	apiKey     string
	headerName string // e.g., "Authorization"
	prefix     string // e.g., "Bearer "
}

func newBearerAuth(apiKey string) *headerAuth {
	return &headerAuth{
		apiKey:     apiKey,
		headerName: "Authorization",
		prefix:     "Bearer ",
	}
}

// apply adds the key to the request
func (a *headerAuth) apply(req *http.Request) error {
	if a.apiKey == "" {
		return fmt.Errorf("API key is required")
	}
	req.Header.Set(a.headerName, a.prefix+a.apiKey)
	return nil
}
