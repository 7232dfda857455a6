// Package route defines routes, their consumers and the policies that
// observe route lifecycle transitions.
package route
