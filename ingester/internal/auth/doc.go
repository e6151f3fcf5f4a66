// Package auth guards the status server with an optional static API key.
package auth
