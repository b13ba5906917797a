package telemetry

// API is how components report what they are doing. Tests swap in a
// Recorder to assert on it.
//
// note: fault injection point
type API interface {
	// ReportBroken reports a component that failed and will not recover by
	// retrying, like a captcha that was never accepted.
	//
	// The id names the component and, at most, the method on it:
	// `client.verify-code` is fine, `client.verify-code.image-status` is not.
	// Put the detail in params instead. Ids are lowercase, underscores
	// separate words of a component and dashes separate words of a method.
	ReportBroken(id string, params ...any)

	// ReportWarning reports something that went wrong but was worked
	// around, like a failed check-in or an unreachable announcement page.
	ReportWarning(id string, params ...any)

	// ReportInfo reports run progress an operator wants to see by default.
	ReportInfo(msg string, params ...any)

	// ReportDebug reports detail that is only useful while debugging.
	ReportDebug(msg string, params ...any)

	// ReportCount reports a point in time count, like how many profiles
	// were visited in a run. Counts are samples, not increments.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id and message with a namespace, so reports from
// the runner and the client it drives can be told apart.
type ScopedAPI struct {
	prefix string
	inner  API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{prefix: namespace + ": ", inner: inner}
}

// Scope nests another namespace under this one.
func (s ScopedAPI) Scope(namespace string) ScopedAPI {
	return ScopedAPI{prefix: s.prefix + namespace + ": ", inner: s.inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.prefix+id, params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.prefix+id, params...)
}

func (s ScopedAPI) ReportInfo(msg string, params ...any) {
	s.inner.ReportInfo(s.prefix+msg, params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.prefix+msg, params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.prefix+id, count)
}
