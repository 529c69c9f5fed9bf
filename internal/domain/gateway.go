/**
 * @description
 * This file defines the abstract outcome returned by the external disbursement
 * gateways (telco VTU and bank transfer). Concrete wire formats live in the
 * gateway client packages; the application layer only ever branches on this
 * normalized shape.
 *
 * @notes
 * - A transport-level error (timeout, connection reset) is NOT an Outcome: the
 *   clients return a Go error for those, and settlement treats them as an
 *   indeterminate result, never as a confirmed failure.
 */

package domain

import "errors"

// ErrAccountNotResolvable is returned by the bank gateway when a name enquiry
// cannot match the account; the transfer flow falls back to manual name entry.
var ErrAccountNotResolvable = errors.New("account not resolvable")

// OutcomeStatus is the normalized disposition of a gateway call.
type OutcomeStatus string

const (
	OutcomeSuccess     OutcomeStatus = "success"
	OutcomePending     OutcomeStatus = "pending"
	OutcomeFailed      OutcomeStatus = "failed"
	OutcomeOTPRequired OutcomeStatus = "otp_required"
)

// GatewayOutcome is the provider's answer to a disbursement request.
type GatewayOutcome struct {
	Status            OutcomeStatus `json:"status"`
	ProviderReference string        `json:"provider_reference,omitempty"`
	Message           string        `json:"message,omitempty"`
}

// ResolvedAccount is the result of a bank account name enquiry.
type ResolvedAccount struct {
	AccountName string `json:"account_name"`
	BankName    string `json:"bank_name"`
}

// Bank is one entry of the bank list served by the bank gateway.
type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}
