// Package testserver runs an http.Handler on a real listener inside the test
// process and sends requests to it.
//
// A Server owns the listening address, a cookie jar shared by every request it
// creates, and the defaults new requests start from. Requests are built with
// chained calls and do nothing until sent:
//
//	srv := testserver.NewT(t, handler, testserver.WithSaveCookies(true))
//	res := srv.Post("/login").WithJSON(creds).Await(t)
//	profile := srv.Get("/profile").Await(t) // carries the login cookies
//
// Send returns every failure as an *Error whose kind (ErrBind, ErrTransport,
// ErrCookieParse, ...) can be tested with errors.Is. MustSend panics instead,
// and Await stops the test. A Request is sent at most once.
package testserver
