// Package session reconciles a visitor's identity and assignments for one request.
//
// A Session is acquired per request and wraps the request's action with Manage.
// Whatever way the action exits (success, error or panic), the session then writes
// the identity and analytics cookies, schedules a notification task if assignments
// changed, and schedules an alias task if the visitor signed up, in that order.
//
// A Session is owned by a single request and is not safe for concurrent use.
package session
