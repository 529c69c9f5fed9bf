/**
 * @description
 * This file defines the asynchronous event payloads exchanged over RabbitMQ:
 * transfer status updates consumed from the bank gateway's webhook relay, and
 * chat notifications published for the transport layer to deliver.
 */

package domain

import "time"

// TransferStatusEvent is the payload consumed from the transfer status
// routing key. ProviderReference identifies the transfer at the bank gateway;
// Reference is our own ledger reference when the relay echoes it back.
type TransferStatusEvent struct {
	ProviderReference string `json:"provider_reference"`
	Reference         string `json:"reference,omitempty"`
	Status            string `json:"status"`
	Reason            string `json:"reason,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
}

// ChatNotification is published to the notification exchange for
// fire-and-forget delivery to a user's chat.
type ChatNotification struct {
	ChatID    string    `json:"chat_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentWebhook is the decoded body of an incoming-payment webhook from the
// virtual account provider.
type PaymentWebhook struct {
	ProviderReference string `json:"provider_reference"`
	AccountNumber     string `json:"account_number"`
	Amount            int64  `json:"amount"` // in kobo
	PayerName         string `json:"payer_name,omitempty"`
	Narration         string `json:"narration,omitempty"`
}
