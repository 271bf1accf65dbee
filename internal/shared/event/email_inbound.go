package event

const EmailInboundDestination string = "email_inbound"
const EmailInboundConsumerDelivery string = "email_inbound_delivery"

// EmailInboundMessage carries a raw inbound email for intake processing.
type EmailInboundMessage struct {
	TenantID  string `json:"tenant_id"`
	Raw       []byte `json:"raw"`
	Timestamp string `json:"timestamp"`
}
