/*
Package backend implements the popstats REST API

A backend serves population statistics imported from the DataUSA API
together with a small user account system. All routes live below /api
and answer with a JSON envelope:

	{
	  "success": true,
	  "message": "Population data fetched and stored successfully",
	  "data": {...}
	}

Failures carry "success": false and a status, "fail" for client errors
and "error" for server errors. Internal errors only expose a numbered
code like "Error 5102"; the details go to the request logger.

Population

	GET /api/population            paginated records, Pagination-* headers
	GET /api/population/fetch      import from DataUSA, archive and notify
	GET /api/population/direct     proxy DataUSA without storing
	GET /api/population/tree       Root → Nation → Year hierarchy
	GET /api/population/stats      summary and yearly series per nation
	GET /api/population/range      records between startYear and endYear
	GET /api/population/snapshots  archived raw payloads (admin only)

The tree is built by package hierarchy. Every nation node carries the
rounded mean of its years, every year node the growth over the previous
year. Tree and stats responses carry an ETag and honour If-None-Match.

Authentication

	POST /api/auth/register
	POST /api/auth/login
	GET  /api/auth/me
	PUT  /api/auth/update-profile
	PUT  /api/auth/change-password
	POST /api/auth/logout

Tokens are HS256 JWTs, accepted as bearer token or as cookie. Logout and
password changes revoke the token in use. Request bodies are validated
against the JSON schemas embedded from the schemas folder.

Middleware

Every request gets a request ID and is counted in the prometheus metrics
served at /metrics. CORS is applied to all routes. The /api routes are
additionally rate limited per client IP and gzip compressed.

Usage

	b := backend.New(&backend.Builder{
		DB:     db,
		Router: mux.NewRouter(),
		Issuer: issuer,
	})
	http.ListenAndServe(":5000", b.Handler())
*/
package backend
