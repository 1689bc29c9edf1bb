// Package port contains the entry points into the chapter service: the REST
// API and the WebSocket streams. Ports translate HTTP into app layer calls.
package port
