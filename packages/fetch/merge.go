package fetch

import "net/url"

// Merge combines a base config with an override. Scalar fields from the
// override win when set; map-typed fields merge key by key, recursing into
// nested plain mappings. Slices, url.Values, readers and functions are
// opaque and replace wholesale. Neither input is mutated and merging with a
// zero override is the identity.
func Merge(base, override Config) Config {
	out := base

	if override.URL != "" {
		out.URL = override.URL
	}
	if override.BaseURL != "" {
		out.BaseURL = override.BaseURL
	}
	if override.Method != "" {
		out.Method = override.Method
	}

	out.Path = mergeAnyMap(base.Path, override.Path)
	out.Params = mergeAnyMap(base.Params, override.Params)
	out.Headers = mergeAnyMap(base.Headers, override.Headers)
	out.Files = mergeAnyMap(base.Files, override.Files)

	if override.ParamsFormat != "" {
		out.ParamsFormat = override.ParamsFormat
	}
	if override.ParamsSerializer != nil {
		out.ParamsSerializer = override.ParamsSerializer
	}
	if override.Query != nil {
		out.Query = cloneValues(override.Query)
	} else if base.Query != nil {
		out.Query = cloneValues(base.Query)
	}

	if override.Data != nil {
		out.Data = override.Data
	}

	if override.Timeout != 0 {
		out.Timeout = override.Timeout
	}
	if override.TotalTimeout != 0 {
		out.TotalTimeout = override.TotalTimeout
	}

	if override.Auth != nil {
		auth := *override.Auth
		out.Auth = &auth
	} else if base.Auth != nil {
		auth := *base.Auth
		out.Auth = &auth
	}

	if override.Redirect != "" {
		out.Redirect = override.Redirect
	}
	if override.MaxRedirects != 0 {
		out.MaxRedirects = override.MaxRedirects
	}

	if override.Retry != 0 {
		out.Retry = override.Retry
	}
	if override.RetryDelay != 0 {
		out.RetryDelay = override.RetryDelay
	}
	if override.RetryDelayFunc != nil {
		out.RetryDelayFunc = override.RetryDelayFunc
	}
	if override.RetryCondition != nil {
		out.RetryCondition = override.RetryCondition
	}
	if override.ValidateStatus != nil {
		out.ValidateStatus = override.ValidateStatus
	}

	if override.ResponseType != "" {
		out.ResponseType = override.ResponseType
	}
	if override.MaxBodySize != 0 {
		out.MaxBodySize = override.MaxBodySize
	}
	if override.DisableDecompress {
		out.DisableDecompress = true
	}
	if override.AllowParseFailure {
		out.AllowParseFailure = true
	}
	if override.JSONMarshal != nil {
		out.JSONMarshal = override.JSONMarshal
	}

	if override.XSRFCookieName != "" {
		out.XSRFCookieName = override.XSRFCookieName
	}
	if override.XSRFHeaderName != "" {
		out.XSRFHeaderName = override.XSRFHeaderName
	}
	if override.Cookies != nil {
		out.Cookies = override.Cookies
	}

	if override.OnUploadProgress != nil {
		out.OnUploadProgress = override.OnUploadProgress
	}
	if override.OnDownloadProgress != nil {
		out.OnDownloadProgress = override.OnDownloadProgress
	}

	out.Hooks = mergeHooks(base.Hooks, override.Hooks)

	if override.Adapter != nil {
		out.Adapter = override.Adapter
	}
	if override.Logger != nil {
		out.Logger = override.Logger
	}

	return out
}

// mergeAnyMap merges override into base key by key, recursing when both
// sides hold plain mappings. The result is always a fresh map; nil inputs
// stay nil when both sides are empty.
func mergeAnyMap(base, override map[string]any) map[string]any {
	if base == nil && override == nil {
		return nil
	}
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = copyMapValue(v)
	}
	for k, v := range override {
		bv, ok := out[k]
		bm, bIsMap := bv.(map[string]any)
		om, oIsMap := v.(map[string]any)
		if ok && bIsMap && oIsMap {
			out[k] = mergeAnyMap(bm, om)
			continue
		}
		out[k] = copyMapValue(v)
	}
	return out
}

// copyMapValue deep-copies nested plain mappings so that callers' inputs are
// never aliased. Arrays and opaque values are kept as-is: they replace
// wholesale on merge and the engine never mutates them.
func copyMapValue(v any) any {
	if m, ok := v.(map[string]any); ok {
		return mergeAnyMap(m, nil)
	}
	return v
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// mergeHooks keeps a hook slice from the override when it has entries,
// otherwise the base's. Hook slices are opaque values, not mappings, so they
// are never element-merged.
func mergeHooks(base, override Hooks) Hooks {
	out := base
	if len(override.BeforeRequest) > 0 {
		out.BeforeRequest = override.BeforeRequest
	}
	if len(override.BeforeRedirect) > 0 {
		out.BeforeRedirect = override.BeforeRedirect
	}
	if len(override.BeforeRetry) > 0 {
		out.BeforeRetry = override.BeforeRetry
	}
	if len(override.AfterResponse) > 0 {
		out.AfterResponse = override.AfterResponse
	}
	if len(override.BeforeError) > 0 {
		out.BeforeError = override.BeforeError
	}
	return out
}
