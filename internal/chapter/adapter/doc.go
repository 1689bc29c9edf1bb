// Package adapter contains the infrastructure behind the chapter services.
// DynamoDB documents, the Redis change feed and attempt limiter, and the
// Secrets Manager key store live here.
package adapter

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("chapter/adapter")
