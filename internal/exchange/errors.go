package exchange

import (
	"errors"
	"fmt"
)

// APIError is an exchange-reported failure, carrying the venue's own code.
type APIError struct {
	Code string
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error code=%s msg=%s", e.Code, e.Msg)
}

// Venue codes, Bybit v5 numbering.
const (
	codeRateLimit          = "10006"
	codeServiceUnavailable = "10016"
	codeTimeout            = "10002"
	codeOrderNotFound      = "110001"
	codePositionNotFound   = "110025"
	codeInsufficientMargin = "110007"
	codeNotModified        = "34036"

	codeTransferInvalidMember = "131002"
	codeTransferPrecision     = "131204"
	codeTransferDisabled      = "131211"
	codeTransferInsufficient  = "131212"
)

var retryableCodes = map[string]bool{
	codeRateLimit:          true,
	codeServiceUnavailable: true,
	codeTimeout:            true,
}

var nonRetryableTransferCodes = map[string]bool{
	codeTransferInvalidMember: true,
	codeTransferPrecision:     true,
	codeTransferDisabled:      true,
	codeTransferInsufficient:  true,
}

// Retryable reports whether err is worth a bounded re-attempt. Transport
// errors (anything that is not an APIError) are treated as transient.
func Retryable(err error) bool {
	var api *APIError
	if errors.As(err, &api) {
		return retryableCodes[api.Code]
	}
	return err != nil
}

// TransferRetryable is Retryable with the transfer-specific abort list:
// insufficient funds, invalid member, precision and disabled-transfer
// failures never succeed on retry.
func TransferRetryable(err error) bool {
	var api *APIError
	if errors.As(err, &api) {
		if nonRetryableTransferCodes[api.Code] {
			return false
		}
		return retryableCodes[api.Code]
	}
	return err != nil
}

// PositionGone reports a close rejection meaning the position or order no
// longer exists on the venue. The caller treats it as success: the
// position is already physically gone.
func PositionGone(code string) bool {
	return code == codeOrderNotFound || code == codePositionNotFound
}

// AlreadyApplied reports a "not modified" style rejection that is treated
// as success.
func AlreadyApplied(code string) bool {
	return code == codeNotModified
}
