// Package server hosts the Fiber application shell shared by every route:
// request IDs, panic recovery, the upload body limit and the JSON error
// envelope. Handlers live in internal/api and diagnostics in server/routes;
// both mount onto the *fiber.App returned by NewApp, so keep exports narrow
// and accept explicit dependencies.
package server
