// Package embedder adapts embedding models to catid.
//
// The model itself lives outside this module. Embedder is the seam: Func wraps
// an in-process function and Command talks to a long-lived worker process
// over newline-delimited JSON.
package embedder
