// Package reqspec turns a curl-like command string into a structured HTTP
// request.
//
// Only the subset of curl that matters for replaying a browser "copy as
// cURL" is modeled: url, method, headers, user agent, referer, cookies and
// body/form data. Everything else is skipped so that pasted commands with
// extra client flags (--compressed, -k, --proxy ...) still parse.
package reqspec
