// Package gateway turns a note photo into a title and Markdown by calling an
// OpenAI-compatible chat completions endpoint.
//
// The gateway persists nothing. It validates that the model answered with
// exactly {title, markdownContent} and a non-empty title; every other outcome
// is normalised to apperr.ErrGatewayFailed or apperr.ErrInvalidResponse.
package gateway
