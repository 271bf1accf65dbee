package event

const EmailStatusDestination string = "email_delivery_status"

// EmailStatusMessage announces a delivery status change to downstream
// consumers (webhooks, analytics).
type EmailStatusMessage struct {
	MessageID         string `json:"message_id"`
	TenantID          string `json:"tenant_id"`
	Status            string `json:"status"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
	BounceReason      string `json:"bounce_reason,omitempty"`
	Timestamp         string `json:"timestamp"`
}
