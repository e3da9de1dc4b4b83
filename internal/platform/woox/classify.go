package woox

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// codeRule is the classification of one exchange error code.
type codeRule struct {
	kind      domain.ErrorKind
	retryable bool
}

// codeRules maps documented WOO X error codes. A signature mismatch (-1001)
// and not-found (-1006) are retryable; a rejected key (-1002) is not.
var codeRules = map[int]codeRule{
	-1000: {domain.KindServer, true},            // UNKNOWN
	-1001: {domain.KindAuthentication, true},    // INVALID_SIGNATURE
	-1002: {domain.KindAuthentication, false},   // UNAUTHORIZED
	-1003: {domain.KindRateLimit, true},         // TOO_MANY_REQUEST
	-1004: {domain.KindInvalidParameter, false}, // UNKNOWN_PARAM
	-1005: {domain.KindInvalidParameter, false}, // INVALID_PARAM
	-1006: {domain.KindNotFound, true},          // RESOURCE_NOT_FOUND
	-1007: {domain.KindExchange, false},         // DUPLICATE_REQUEST
	-1008: {domain.KindInvalidParameter, false}, // QUANTITY_TOO_HIGH
	-1009: {domain.KindExchange, false},         // CAN_NOT_WITHDRAWAL
	-1011: {domain.KindServer, true},            // RPC_NOT_CONNECT
	-1012: {domain.KindServer, true},            // RPC_REJECT
	-1101: {domain.KindExchange, false},         // RISK_TOO_HIGH
	-1103: {domain.KindInvalidParameter, false}, // INVALID_PRICE_QUOTE_MIN
}

// Classify maps an exchange code and HTTP status to a typed error. A known
// code wins over the HTTP status. Order-service codes (317xxx) are parameter
// errors. Unknown codes fall back to the HTTP status and then to a generic,
// non-retryable exchange error.
func Classify(code, httpStatus int, message string) *domain.ExchangeError {
	rule, ok := codeRules[code]
	if !ok && code >= 317000 && code < 318000 {
		rule, ok = codeRule{domain.KindInvalidParameter, false}, true
	}
	if !ok {
		rule = classifyHTTP(httpStatus)
	}

	e := &domain.ExchangeError{
		Kind:       rule.kind,
		Code:       code,
		HTTPStatus: httpStatus,
		Message:    message,
		Retryable:  rule.retryable,
	}
	if e.Retryable {
		e.RetryAfter = RetryDelay(e.Kind, 1)
	}
	return e
}

func classifyHTTP(status int) codeRule {
	switch {
	case status == http.StatusTooManyRequests:
		return codeRule{domain.KindRateLimit, true}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return codeRule{domain.KindAuthentication, false}
	case status == http.StatusNotFound:
		return codeRule{domain.KindNotFound, true}
	case status >= 500:
		return codeRule{domain.KindServer, true}
	default:
		return codeRule{domain.KindExchange, false}
	}
}

// RetryDelay returns the wait before retrying after the given 1-based attempt
// failed with an error of kind. It replays the schedule of KindBackOff.
//
//	rate limit:      min(2^attempt, 60) s
//	server:          min(5*attempt, 30) s
//	other retryable: min(2*attempt, 10) s
func RetryDelay(kind domain.ErrorKind, attempt int) time.Duration {
	b := KindBackOff(kind)
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
