package errors

import crdb "github.com/cockroachdb/errors"

// Kind is the error taxonomy from spec.md §7. Every error the core
// surfaces to a caller carries exactly one Kind, tagged via WithKind,
// so the dispatcher can map kind to HTTP status without inspecting
// error text.
type Kind string

const (
	// KindAppNotFound: resolver failed to find a satisfying version.
	KindAppNotFound Kind = "AppNotFound"
	// KindAppUnavailable: worker creation failed.
	KindAppUnavailable Kind = "AppUnavailable"
	// KindPoolExhausted: deadline elapsed while waiting for a worker.
	KindPoolExhausted Kind = "PoolExhausted"
	// KindWorkerCrash: in-flight failure, worker died mid-request.
	KindWorkerCrash Kind = "WorkerCrash"
	// KindWorkerTimeout: in-flight failure, request exceeded its deadline.
	KindWorkerTimeout Kind = "WorkerTimeout"
	// KindPluginRejected: a plugin's onRequest hook returned an error. A
	// response returned by a hook is written as-is and carries no Kind.
	KindPluginRejected Kind = "PluginRejected"
	// KindInvalidManifest: a per-app or per-plugin manifest failed validation.
	KindInvalidManifest Kind = "InvalidManifest"
	// KindInvalidConfig: worker configuration violated an invariant (§3).
	KindInvalidConfig Kind = "InvalidConfig"
	// KindPoolShutdown: the pool is draining or has drained.
	KindPoolShutdown Kind = "PoolShutdown"
)

var kindDomains = map[Kind]crdb.Domain{}

func domainFor(k Kind) crdb.Domain {
	if d, ok := kindDomains[k]; ok {
		return d
	}
	d := crdb.NamedSentinel(string(k))
	kindDomains[k] = d
	return d
}

// WithKind tags err with the given Kind. The dispatcher reads it back
// with GetKind to choose an HTTP status.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return WithDomain(err, domainFor(kind))
}

// GetKind returns the Kind most recently attached with WithKind, and
// false if err (or any error in its chain) carries none.
func GetKind(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	d := GetDomain(err)
	if d == crdb.NoDomain {
		return "", false
	}
	for kind, domain := range kindDomains {
		if domain == d {
			return kind, true
		}
	}
	return "", false
}
