// Package fetch is a declarative HTTP client: describe a request as a Config
// value, dispatch it, get back a normalized Response or a coded *Error.
//
// The pipeline merges client defaults under the call config, builds the URL
// from BaseURL/Params/Path, normalizes headers, encodes the body, then drives
// a retry/redirect state machine around a pluggable transport Adapter. Non-2xx
// statuses are not errors; they come back as a Response with OK false unless
// the retry budget turns an unrecovered 429/5xx into ENETWORK.
//
//	client := fetch.New(fetch.Config{BaseURL: "https://api.example.com"})
//	resp, err := client.Get(ctx, "/users/{id}", fetch.Config{
//		Path:  map[string]any{"id": 42},
//		Retry: 2,
//	})
package fetch
