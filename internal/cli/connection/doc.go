// Package connection talks to a running node's admin HTTP endpoint.
package connection
