// Package auth provides authentication middleware for attribstream-server.
//
// APIKey(mode, header, key) returns a gin.HandlerFunc that validates the API
// key carried in the named HTTP header on ingestion requests.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). When the key is incorrect or absent
// the middleware aborts with 401 and a JSON error body.
package auth
