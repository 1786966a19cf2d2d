package gqlrequest

import "context"

type ctxKey int

const analysisKey ctxKey = iota

// WithAnalysis returns a copy of ctx carrying a. A nil ctx is treated as
// context.Background.
func WithAnalysis(ctx context.Context, a *Analysis) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, analysisKey, a)
}

// AnalysisFromContext returns the analysis stored by WithAnalysis, or nil.
// Analysis methods tolerate a nil receiver, so callers may use the result
// without checking.
func AnalysisFromContext(ctx context.Context) *Analysis {
	if ctx == nil {
		return nil
	}
	if a, ok := ctx.Value(analysisKey).(*Analysis); ok {
		return a
	}
	return nil
}
