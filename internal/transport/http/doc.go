// Package http implements the HTTP handlers for the license endpoints.
//
// Handlers stay thin: they parse the request, call a service and render either
// JSON or an RFC 7807 problem document. The activation page is rendered from
// an embedded html/template.
package http
