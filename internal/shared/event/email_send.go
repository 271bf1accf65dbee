package event

const EmailSendDestination string = "email_send"
const EmailSendConsumerDelivery string = "email_send_delivery"

// EmailSendAttachment references an attachment by URL or storage key.
type EmailSendAttachment struct {
	URL        string `json:"url,omitempty"`
	StorageKey string `json:"storage_key,omitempty"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type,omitempty"`
}

// EmailSendMessage is the queue payload that requests one email delivery.
type EmailSendMessage struct {
	MessageID        string                `json:"message_id"`
	TenantID         string                `json:"tenant_id"`
	ProviderID       string                `json:"provider_id"`
	From             string                `json:"from"`
	To               []string              `json:"to"`
	Cc               []string              `json:"cc,omitempty"`
	Bcc              []string              `json:"bcc,omitempty"`
	Subject          string                `json:"subject"`
	BodyFormat       string                `json:"body_format"`
	BodyContent      string                `json:"body_content,omitempty"`
	TemplateID       string                `json:"template_id,omitempty"`
	TemplateData     map[string]any        `json:"template_data,omitempty"`
	Attachments      []EmailSendAttachment `json:"attachments,omitempty"`
	Source           string                `json:"source"`
	RetryCount       int32                 `json:"retry_count"`
	OriginalOutboxID int64                 `json:"original_outbox_id,omitempty"`
	Timestamp        string                `json:"timestamp"`
}
